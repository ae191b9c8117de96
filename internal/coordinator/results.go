package coordinator

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Per-round results CSV for downstream analysis: round, participants,
// delta norm, cumulative epsilon.

func getResultsFileName(resultsDir string) string {
	if resultsDir == "" {
		return ""
	}

	os.MkdirAll(resultsDir, 0777)
	return filepath.Join(resultsDir, fmt.Sprintf("results_%s.csv", time.Now().Format("2006-01-02_15-04")))
}

func writeResultsToFile(fileName string, round int32, participants int, deltaNorm float64, totalEpsilon float64) {
	if fileName == "" {
		return
	}

	file, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Printf("Failed to open file: %v\n", err)
		return
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	record := []string{fmt.Sprintf("%d", round), fmt.Sprintf("%d", participants),
		fmt.Sprintf("%.6f", deltaNorm), fmt.Sprintf("%.4f", totalEpsilon)}
	if err := writer.Write(record); err != nil {
		fmt.Printf("Failed to write record: %v\n", err)
		return
	}
}
