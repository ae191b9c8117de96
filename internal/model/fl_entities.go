package model

// Client is one data-holding participant in the federation. DataHandle is
// opaque to the coordinator and is passed through to the local trainer.
type Client struct {
	Id         string
	DataHandle string
}

// ClientUpdate is one client's contribution for one round. It lives only
// for the duration of the round pipeline and is discarded after aggregation.
type ClientUpdate struct {
	ClientId   string
	Vector     []float64
	NumSamples int32
	LocalLoss  float64
}

// ReliabilityRecord is the persistent per-client trust state. Records are
// never deleted; a client that drops out keeps its history for rejoining.
type ReliabilityRecord struct {
	ClientId     string
	Score        float64
	SmoothedDir  []float64
	SmoothedLoss float64
	RoundsSeen   int32
}
