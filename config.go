package policydash

import (
	"net/http"
	"time"

	"github.com/Keksclan/policydash/breaker"
	"github.com/Keksclan/policydash/cache"
	"github.com/Keksclan/policydash/internal/core"
	"github.com/Keksclan/policydash/policy"
	"github.com/Keksclan/policydash/ratelimit"
	"github.com/Keksclan/policydash/session"
	"github.com/Keksclan/policydash/tracing"
	"github.com/sirupsen/logrus"
)

// config holds the internal configuration assembled via functional options.
type config struct {
	store      cache.Store
	session    session.Store
	logger     logrus.FieldLogger
	httpClient *http.Client
	timeout    time.Duration

	resolver    *policy.Resolver
	resolverSet bool

	authPath  string
	onExpired func(authPath string)

	recovery   bool
	requestIDs bool
	limiter    *ratelimit.Limiter
	breaker    *breaker.Config
	tracing    *tracing.TracingConfig
	namespace  string

	middlewares core.MiddlewareBuilder
}
