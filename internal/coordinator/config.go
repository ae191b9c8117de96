package coordinator

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rudrab06/PP-FedSLAM/internal/common"
)

// RunConfig enumerates every static parameter of a coordination run. All
// fields are range-checked once in Validate; a run with a bad configuration
// never starts.
type RunConfig struct {
	ModelDimension   int32   `yaml:"modelDimension" json:"modelDimension"`
	ClipNorm         float64 `yaml:"clipNorm" json:"clipNorm"`
	NoiseMultiplier  float64 `yaml:"noiseMultiplier" json:"noiseMultiplier"`
	TrimFraction     float64 `yaml:"trimFraction" json:"trimFraction"`
	Rounds           int32   `yaml:"rounds" json:"rounds"`
	ClientsPerRound  int32   `yaml:"clientsPerRound" json:"clientsPerRound"`
	PoolSize         int32   `yaml:"poolSize" json:"poolSize"`
	MinQuorum        int32   `yaml:"minQuorum" json:"minQuorum"`
	RoundTimeoutSec  float64 `yaml:"roundTimeoutSec" json:"roundTimeoutSec"`
	ReliabilityDecay float64 `yaml:"reliabilityDecay" json:"reliabilityDecay"`
	MinHistoryRounds int32   `yaml:"minHistoryRounds" json:"minHistoryRounds"`
	PrivacyDelta     float64 `yaml:"privacyDelta" json:"privacyDelta"`
	DeltaPolicy      string  `yaml:"deltaPolicy" json:"deltaPolicy"`
	QuorumPolicy     string  `yaml:"quorumPolicy" json:"quorumPolicy"`
	MaxRoundRetries  int32   `yaml:"maxRoundRetries" json:"maxRoundRetries"`
	SelectionSeed    int64   `yaml:"selectionSeed" json:"selectionSeed"`
	NoiseSeed        int64   `yaml:"noiseSeed" json:"noiseSeed"`
	ResultsDir       string  `yaml:"resultsDir" json:"resultsDir"`
}

func LoadRunConfig(filePath string) (*RunConfig, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("unable to read run config %s: %w", filePath, err)
	}

	config := &RunConfig{}
	if err := yaml.Unmarshal(raw, config); err != nil {
		return nil, fmt.Errorf("unable to parse run config %s: %w", filePath, err)
	}
	config.ApplyDefaults()

	return config, nil
}

func (config *RunConfig) ApplyDefaults() {
	if config.PrivacyDelta == 0 {
		config.PrivacyDelta = common.DEFAULT_PRIVACY_DELTA
	}
	if config.DeltaPolicy == "" {
		config.DeltaPolicy = common.DELTA_POLICY_ADDITIVE
	}
	if config.QuorumPolicy == "" {
		config.QuorumPolicy = common.QUORUM_POLICY_ABORT
	}
}

func (config *RunConfig) RoundTimeout() time.Duration {
	return time.Duration(config.RoundTimeoutSec * float64(time.Second))
}

func (config *RunConfig) Validate() error {
	if config.ModelDimension < 1 {
		return &common.ConfigurationError{Field: "modelDimension", Reason: fmt.Sprintf("must be >= 1, got %d", config.ModelDimension)}
	}
	if config.ClipNorm <= 0 {
		return &common.ConfigurationError{Field: "clipNorm", Reason: fmt.Sprintf("must be > 0, got %g", config.ClipNorm)}
	}
	if config.NoiseMultiplier < 0 {
		return &common.ConfigurationError{Field: "noiseMultiplier", Reason: fmt.Sprintf("must be >= 0, got %g", config.NoiseMultiplier)}
	}
	if config.TrimFraction < 0 || config.TrimFraction >= 0.5 {
		return &common.ConfigurationError{Field: "trimFraction", Reason: fmt.Sprintf("must be in [0, 0.5), got %g", config.TrimFraction)}
	}
	if config.Rounds < 1 {
		return &common.ConfigurationError{Field: "rounds", Reason: fmt.Sprintf("must be >= 1, got %d", config.Rounds)}
	}
	if config.ClientsPerRound < 1 {
		return &common.ConfigurationError{Field: "clientsPerRound", Reason: fmt.Sprintf("must be >= 1, got %d", config.ClientsPerRound)}
	}
	if config.PoolSize < config.ClientsPerRound {
		return &common.ConfigurationError{
			Field:  "poolSize",
			Reason: fmt.Sprintf("pool of %d cannot supply %d clients per round", config.PoolSize, config.ClientsPerRound),
		}
	}
	if config.MinQuorum < 1 || config.MinQuorum > config.ClientsPerRound {
		return &common.ConfigurationError{
			Field:  "minQuorum",
			Reason: fmt.Sprintf("must be in [1, clientsPerRound=%d], got %d", config.ClientsPerRound, config.MinQuorum),
		}
	}
	if config.RoundTimeoutSec <= 0 {
		return &common.ConfigurationError{Field: "roundTimeoutSec", Reason: fmt.Sprintf("must be > 0, got %g", config.RoundTimeoutSec)}
	}
	if config.ReliabilityDecay <= 0 || config.ReliabilityDecay >= 1 {
		return &common.ConfigurationError{Field: "reliabilityDecay", Reason: fmt.Sprintf("must be in (0,1), got %g", config.ReliabilityDecay)}
	}
	if config.MinHistoryRounds < 0 {
		return &common.ConfigurationError{Field: "minHistoryRounds", Reason: fmt.Sprintf("must be >= 0, got %d", config.MinHistoryRounds)}
	}
	if config.PrivacyDelta <= 0 || config.PrivacyDelta >= 1 {
		return &common.ConfigurationError{Field: "privacyDelta", Reason: fmt.Sprintf("must be in (0,1), got %g", config.PrivacyDelta)}
	}
	if config.DeltaPolicy != common.DELTA_POLICY_ADDITIVE && config.DeltaPolicy != common.DELTA_POLICY_REPLACE {
		return &common.ConfigurationError{Field: "deltaPolicy", Reason: fmt.Sprintf("must be %q or %q, got %q",
			common.DELTA_POLICY_ADDITIVE, common.DELTA_POLICY_REPLACE, config.DeltaPolicy)}
	}
	if config.QuorumPolicy != common.QUORUM_POLICY_ABORT && config.QuorumPolicy != common.QUORUM_POLICY_RETRY {
		return &common.ConfigurationError{Field: "quorumPolicy", Reason: fmt.Sprintf("must be %q or %q, got %q",
			common.QUORUM_POLICY_ABORT, common.QUORUM_POLICY_RETRY, config.QuorumPolicy)}
	}
	if config.MaxRoundRetries < 0 {
		return &common.ConfigurationError{Field: "maxRoundRetries", Reason: fmt.Sprintf("must be >= 0, got %d", config.MaxRoundRetries)}
	}

	// Trimming must leave at least one value per coordinate at full
	// participation. Checked here against the configured clients-per-round
	// count, never deferred to runtime.
	trim := int32(math.Floor(config.TrimFraction * float64(config.ClientsPerRound)))
	if config.ClientsPerRound-2*trim < 1 {
		return &common.ConfigurationError{
			Field:  "trimFraction",
			Reason: fmt.Sprintf("trimming %d from each end of %d clients leaves nothing", trim, config.ClientsPerRound),
		}
	}

	return nil
}
