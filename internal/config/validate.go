package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"

	kberrors "github.com/Aman-CERP/kbfusion/internal/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges (struct tags) and the cross-field rules the
// tags cannot express. It returns a config KBError naming the first failing fields.
func (c *Config) Validate() error {
	// NaN fails every comparison tag and +Inf passes gte=0, so both are
	// caught here with one message.
	for name, v := range map[string]float64{
		"lexical": c.Search.DefaultWeights.Lexical,
		"dense":   c.Search.DefaultWeights.Dense,
		"sparse":  c.Search.DefaultWeights.Sparse,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return kberrors.ConfigError(fmt.Sprintf("search.default_weights.%s must be a finite number, got %g", name, v), nil)
		}
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return describe(verrs)
		}
		return kberrors.ConfigError("configuration could not be validated", err)
	}

	w := c.Search.DefaultWeights
	if w.Sum() <= 0 {
		return kberrors.ConfigError("search.default_weights must have a positive sum", nil).
			WithSuggestion("set at least one of lexical, dense, sparse above 0")
	}

	lexShare := w.Lexical / w.Sum()
	if lexShare < c.Adaptive.MinLexical-1e-9 || lexShare > c.Adaptive.MaxLexical+1e-9 {
		return kberrors.ConfigError(fmt.Sprintf(
			"default lexical share %.2f must lie within adaptive [min_lexical %.2f, max_lexical %.2f]",
			lexShare, c.Adaptive.MinLexical, c.Adaptive.MaxLexical), nil)
	}

	if c.Rerank.Provider == "http" && c.Rerank.Endpoint == "" {
		return kberrors.ConfigError("rerank.endpoint is required when rerank.provider is http", nil)
	}

	if !c.Methods.Lexical.IsEnabled() && !c.Methods.Dense.IsEnabled() && !c.Methods.Sparse.IsEnabled() {
		return kberrors.ConfigError("at least one retrieval method must be enabled", nil)
	}

	return nil
}

func describe(verrs validator.ValidationErrors) error {
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s %s)", yamlPath(fe.Namespace()), fe.Tag(), fe.Param()))
	}

	err := kberrors.ConfigError("invalid values: "+strings.Join(fields, ", "), verrs)
	for _, fe := range verrs {
		err.WithDetail(yamlPath(fe.Namespace()), fmt.Sprintf("%v", fe.Value()))
	}
	return err
}

// yamlPath turns "Config.Search.RRFConstant" into "search.rrfconstant".
// Good enough for messages; exact keys are in the docs.
func yamlPath(ns string) string {
	ns = strings.TrimPrefix(ns, "Config.")
	return strings.ToLower(ns)
}
