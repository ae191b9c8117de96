package common

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rudrab06/PP-FedSLAM/internal/model"
)

func ReadCsvFile(filePath string) ([][]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("unable to open csv file %s: %w", filePath, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("unable to parse csv file %s: %w", filePath, err)
	}

	return records, nil
}

// ReadClientPoolFile loads the client pool from a CSV file with one
// "client_id,data_handle" record per line.
func ReadClientPoolFile(filePath string) (map[string]*model.Client, error) {
	clients := make(map[string]*model.Client)

	records, err := ReadCsvFile(filePath)
	if err != nil {
		return nil, err
	}

	for _, record := range records {
		if len(record) != 2 {
			return nil, fmt.Errorf("incorrect client pool record: %v", record)
		}

		client := &model.Client{
			Id:         strings.TrimSpace(record[0]),
			DataHandle: strings.TrimSpace(record[1]),
		}
		if client.Id == "" {
			return nil, fmt.Errorf("client pool record with empty id: %v", record)
		}

		clients[client.Id] = client
	}

	return clients, nil
}

func SortClients(clients []*model.Client) {
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].Id < clients[j].Id
	})
}
