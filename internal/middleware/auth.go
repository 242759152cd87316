package middleware

import (
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/donote/api/transport"
	"github.com/fastygo/donote/domain"
)

const userValueIdentity = "identity"

// IdentityVerifier validates an Authorization header value.
type IdentityVerifier interface {
	VerifyHeader(header string) (domain.Identity, error)
}

// Authenticate verifies the identity token and stores the identity on the request.
// Event streams cannot set headers, so an access_token query parameter is accepted too.
func Authenticate(verifier IdentityVerifier, logger *zap.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			header := string(ctx.Request.Header.Peek("Authorization"))
			if header == "" {
				if token := string(ctx.QueryArgs().Peek("access_token")); token != "" {
					header = "Bearer " + token
				}
			}

			identity, err := verifier.VerifyHeader(header)
			if err != nil {
				logger.Debug("rejected identity token", zap.Error(err))
				writeError(ctx, http.StatusUnauthorized, domain.ErrCodeUnauthorized, "invalid identity token")
				return
			}

			ctx.SetUserValue(userValueIdentity, identity)
			next(ctx)
		}
	}
}

// IdentityFrom returns the identity verified by Authenticate.
func IdentityFrom(ctx *fasthttp.RequestCtx) (domain.Identity, bool) {
	identity, ok := ctx.UserValue(userValueIdentity).(domain.Identity)
	return identity, ok && identity.UID != ""
}

func writeError(ctx *fasthttp.RequestCtx, status int, code domain.ErrorCode, message string) {
	ctx.Response.Header.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBodyString(transport.NewError(string(code), transport.ErrorBody{Message: message}, nil).String())
}
