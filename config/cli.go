package config

import "time"

// Cli is the shared flag destination for cmd/ingest and cmd/edge. Each
// binary only parses the flags relevant to it, but keeping one struct (as
// the teacher's cmd/http-server did) keeps env-var prefixes and defaults in
// one place.
type Cli struct {
	// Ingest
	RTMPAddr         string
	IngestHTTPAddr   string
	MaxIngestStreams int

	// Edge
	EdgeHTTPAddr     string
	MaxEdgeInFlight  int
	ObjectStoreURL   string
	RecordingBaseURL string

	// Shared infra
	PostgresDSN     string
	NATSURL         string
	APIToken        string
	JWTSecret       string
	PprofPort       int
	PromPort        int
	BreakpointSecs  float64
	PartSecs        float64
	HoldBackParts   int
	RetainSegments  int
	DedupeWindowSec int
}

// DefaultCli returns the flag defaults the teacher's main.go hardcoded
// inline, collected here so both binaries start from the same baseline.
func DefaultCli() Cli {
	return Cli{
		RTMPAddr:         "0.0.0.0:1935",
		IngestHTTPAddr:   "127.0.0.1:8936",
		MaxIngestStreams: 200,

		EdgeHTTPAddr:    "0.0.0.0:8937",
		MaxEdgeInFlight: 1000,
		ObjectStoreURL:  "file:///var/lib/catalyst/media",

		NATSURL:         "nats://127.0.0.1:4222",
		APIToken:        "IAmAuthorized",
		JWTSecret:       "",
		PprofPort:       6061,
		PromPort:        9090,
		BreakpointSecs:  DefaultBreakpointDuration.Seconds(),
		PartSecs:        DefaultPartDuration.Seconds(),
		HoldBackParts:   DefaultHoldBackParts,
		RetainSegments:  DefaultRetainSegments,
		DedupeWindowSec: int(DefaultManifestDedupeWindow / time.Second),
	}
}
