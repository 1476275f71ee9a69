package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the default registry; call MustRegister before mounting it.
func Handler() http.Handler { return promhttp.Handler() }

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
