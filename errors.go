package akasha

import (
	"errors"

	"github.com/akasha-ai/akasha/extract"
	"github.com/akasha-ai/akasha/graphdb"
	"github.com/akasha-ai/akasha/llm"
)

// ErrValidation marks bad configuration or bad public-method input, raised
// before any side effects.
var ErrValidation = errors.New("akasha: invalid input")

// Failure kinds re-exported from the subsystems that raise them, so callers
// can match with errors.Is against one package.
var (
	ErrEmbedding      = llm.ErrEmbedding
	ErrLLM            = llm.ErrGenerate
	ErrExtraction     = extract.ErrExtraction
	ErrDatabase       = graphdb.ErrDatabase
	ErrNotFound       = graphdb.ErrNotFound
	ErrScopeViolation = graphdb.ErrScopeViolation
)
