package v1

import (
	"errors"
	"net/http"

	"github.com/nulzo/prism-router/internal/gateway"
	"github.com/nulzo/prism-router/internal/llm"
	"github.com/nulzo/prism-router/pkg/api"
)

// providerProblem maps a proxy failure: vendor status is relayed, missing
// configuration and transport failures are 500.
func providerProblem(name string, err error) *api.Problem {
	if errors.Is(err, llm.ErrProviderNotFound) {
		return api.NewError(http.StatusInternalServerError, "Configuration Missing",
			"provider "+name+" is not configured",
			api.WithCode(string(llm.KindConfigurationMissing)),
			api.WithExtension("provider", name),
		)
	}

	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		status := pe.HTTPStatus()
		return api.NewError(status, statusTitle(status), pe.Message,
			api.WithCode(string(pe.Kind)),
			api.WithExtension("provider", pe.Provider),
		)
	}

	return api.InternalError("provider call failed", err)
}

func routerProblem(err error) *api.Problem {
	var rerr *gateway.RouterError
	if !errors.As(err, &rerr) {
		return api.InternalError("routing failed", err)
	}

	status := rerr.HTTPStatus()
	opts := []api.ProblemOption{
		api.WithCode(string(rerr.Code)),
		api.WithExtension("requestId", rerr.RequestID),
		api.WithExtension("timing", rerr.Timing),
		api.WithExtension("tokenUsage", rerr.TokenUsage),
		api.WithExtension("costs", rerr.Costs),
	}
	if len(rerr.FallbacksUsed) > 0 {
		opts = append(opts, api.WithExtension("fallbacksUsed", rerr.FallbacksUsed))
	}
	if status >= http.StatusInternalServerError {
		opts = append(opts, api.WithLog(rerr))
	}

	return api.NewError(status, statusTitle(status), rerr.Message, opts...)
}

func statusTitle(status int) string {
	if status == gateway.StatusClientClosedRequest {
		return "Client Closed Request"
	}
	if t := http.StatusText(status); t != "" {
		return t
	}
	return "Error"
}
