package api

import (
	"context"
	"fmt"

	"snap/dispatch"
	"snap/mail"
	"snap/mapping"
	"snap/storage"

	"go.uber.org/zap"
)

// RegisterAccountCommand creates a member account from a validated request
type RegisterAccountCommand struct {
	Request RegisterRequest
}

// RegisterAccountResult carries the stored account
type RegisterAccountResult struct {
	User *storage.User
}

// UserRegistered is published after an account has been created
type UserRegistered struct {
	UserID      int64
	Username    string
	Email       string
	DisplayName string
}

const welcomeSubject = "Welcome to Snap"

// AccountRegistrations returns the dispatcher registrations for account commands
// and the welcome mail sent to new accounts.
func AccountRegistrations(users storage.UserStorage, mapper *mapping.Mapper, logger *zap.SugaredLogger) []dispatch.Registration {
	return []dispatch.Registration{
		func(d *dispatch.Dispatcher) error {
			return dispatch.Handle(d, func(ctx context.Context, cmd RegisterAccountCommand) (RegisterAccountResult, error) {
				user, err := mapping.Map[storage.User](mapper, cmd.Request)
				if err != nil {
					return RegisterAccountResult{}, err
				}
				if err := users.CreateUser(ctx, &user); err != nil {
					return RegisterAccountResult{}, err
				}

				logger.Infow("Account registered",
					"username", user.Username,
					"user_id", user.ID)

				d.Publish(ctx, UserRegistered{
					UserID:      user.ID,
					Username:    user.Username,
					Email:       user.Email,
					DisplayName: user.DisplayName,
				})
				return RegisterAccountResult{User: &user}, nil
			})
		},
		func(d *dispatch.Dispatcher) error {
			return dispatch.Subscribe(d, "welcome-mail", func(ctx context.Context, n UserRegistered) error {
				_, err := dispatch.Send[mail.SendEmailResult](ctx, d, mail.SendEmailCommand{
					To:      n.Email,
					Subject: welcomeSubject,
					Body:    fmt.Sprintf("Hello %s,\n\nYour Snap account %q is ready.\n", n.DisplayName, n.Username),
				})
				return err
			})
		},
	}
}
