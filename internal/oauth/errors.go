package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/sumeria/sumeria/internal/apperr"
)

// classifyTokenError maps a token endpoint failure onto the apperr kinds.
// 429 and 5xx responses and transport failures are transient; any other
// response from the endpoint means the grant was refused.
func classifyTokenError(ctx context.Context, action string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", action, apperr.FromContext(errors.Join(ctxErr, err)))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", action, apperr.FromContext(err))
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
			return fmt.Errorf("%s: %w: %w", action, apperr.ErrTransient, err)
		}
		return fmt.Errorf("%s: %w: %w", action, apperr.ErrAuthorizationDenied, err)
	}

	return fmt.Errorf("%s: %w: %w", action, apperr.ErrTransient, err)
}
