package event

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"spotto-service/internal/model"
)

var ErrUnresolvedUser = errors.New("checkout cannot be attributed to a user")

// UserLookup finds a local user by the email used at checkout.
type UserLookup interface {
	FindIDByEmail(ctx context.Context, email string) (id string, found bool, err error)
}

type Interpreter struct {
	users  UserLookup
	logger *slog.Logger
}

func NewInterpreter(users UserLookup, logger *slog.Logger) *Interpreter {
	return &Interpreter{users: users, logger: logger}
}

// Resolve turns a completed checkout into a Grant. The metadata user id wins;
// otherwise the billing emails are tried in order.
func (i *Interpreter) Resolve(ctx context.Context, e CheckoutCompleted) (model.Grant, error) {
	grant := model.Grant{
		UserID:          strings.TrimSpace(e.UserID),
		SessionID:       e.SessionID,
		PaymentIntentID: e.PaymentIntentID,
		Amount:          e.Amount,
		Currency:        strings.ToLower(e.Currency),
		EventID:         e.ID,
	}
	if grant.UserID != "" {
		return grant, nil
	}

	for _, email := range e.Emails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" || i.users == nil {
			continue
		}
		id, found, err := i.users.FindIDByEmail(ctx, email)
		if err != nil {
			return model.Grant{}, errors.Wrapf(model.ErrStorageTransient, "lookup user by email: %v", err)
		}
		if found {
			i.logger.InfoContext(ctx, "Resolved checkout user by email", "sessionId", e.SessionID)
			grant.UserID = id
			return grant, nil
		}
	}

	return model.Grant{}, errors.Wrapf(ErrUnresolvedUser, "session %s", e.SessionID)
}
