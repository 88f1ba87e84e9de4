package lifecycle

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/brainhub-io/gateway/internal/apperr"
)

// knownModels enumerates the provider/model pairs the dispatch side is
// prepared to route to a worker for, per spec.md §4.11 step 2. A model
// outside this set is rejected at admission instead of failing, much
// later, inside the worker.
var knownModels = map[string]map[string]bool{
	"openai": {
		"gpt-4":       true,
		"gpt-4o":      true,
		"gpt-4o-mini": true,
		"gpt-4.1":     true,
		"o3":          true,
	},
	"anthropic": {
		"claude-opus-4":   true,
		"claude-sonnet-4": true,
		"claude-haiku-4":  true,
	},
}

var validate = validator.New()

// submitValidation carries the struct tags validator.v10 checks: URL
// well-formedness for jdUrl, generic URI well-formedness for the
// object-store resume key (which is not itself a URL).
type submitValidation struct {
	JDURL     string `validate:"required,url"`
	ResumeURI string `validate:"required,uri"`
}

// validateSubmitRequest runs the structural checks spec.md §4.11 step 2
// names before a job is admitted: jdUrl is http(s)://…, resumeUri is a
// well-formed URI, and modelProvider/modelName belong to a known pair.
// Cross-field "model belongs to provider" membership can't be expressed
// as a validator struct tag, so it's a plain map lookup alongside the
// tag-driven checks.
func validateSubmitRequest(req SubmitRequest) error {
	if err := validate.Struct(submitValidation{JDURL: req.JDURL, ResumeURI: req.ResumeURI}); err != nil {
		return apperr.New(apperr.KindValidation, "jd_url must be an absolute http(s) URL and resume_uri must be a well-formed URI")
	}
	if !strings.HasPrefix(req.JDURL, "http://") && !strings.HasPrefix(req.JDURL, "https://") {
		return apperr.New(apperr.KindValidation, "jd_url must use the http or https scheme")
	}

	models, ok := knownModels[req.ModelProvider]
	if !ok {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("unknown model provider %q", req.ModelProvider))
	}
	if !models[req.ModelName] {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("unknown model %q for provider %q", req.ModelName, req.ModelProvider))
	}
	return nil
}
