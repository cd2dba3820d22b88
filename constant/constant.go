package constant

type SourceStatus string

const (
	SourceStatusQueued     SourceStatus = "QUEUED"
	SourceStatusProcessing SourceStatus = "PROCESSING"
	SourceStatusCompleted  SourceStatus = "COMPLETED"
	SourceStatusError      SourceStatus = "ERROR"
)

// Startable reports whether a scheduler tick may launch ingestion for a source in this status.
func (s SourceStatus) Startable() bool {
	return s == SourceStatusQueued || s == SourceStatusError
}

func (s SourceStatus) Valid() bool {
	switch s {
	case SourceStatusQueued, SourceStatusProcessing, SourceStatusCompleted, SourceStatusError:
		return true
	}
	return false
}

type EnvelopeType string

const (
	EnvelopeSnippet     EnvelopeType = "snippet"
	EnvelopeLiveChunk   EnvelopeType = "live_commentary_chunk"
	EnvelopeError       EnvelopeType = "error"
	EnvelopeInit        EnvelopeType = "init"
	EnvelopeComment     EnvelopeType = "comment"
	EnvelopeViewerCount EnvelopeType = "viewer_count"
)

// AllCategory is the pseudo-category the scheduler never queries.
const AllCategory = "all"

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
