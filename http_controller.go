package registration

import (
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
)

// RegisterRegistrationRoutes mounts the registration flow on the router:
// GET/POST on the base route for the email form, GET/POST on the code route
// for the password-set form. Any other method yields the router's
// method-not-allowed response.
func RegisterRegistrationRoutes[T any](app router.Router[T], opts ...RegistrationControllerOption) {

	controller := NewRegistrationController(opts...)

	app.Get(controller.Routes.Register, controller.RegistrationShow).
		SetName("email-registration.form.get")
	app.Post(controller.Routes.Register, controller.RegistrationCreate).
		SetName("email-registration.form.post")

	app.Get(fmt.Sprintf("%s/:code", controller.Routes.Register), controller.ConfirmationShow).
		SetName("email-registration.confirm.get")
	app.Post(fmt.Sprintf("%s/:code", controller.Routes.Register), controller.ConfirmationExecute).
		SetName("email-registration.confirm.post")
}

type RegistrationControllerRoutes struct {
	Register string
}

type RegistrationControllerViews struct {
	Form        string
	Sent        string
	PasswordSet string
}

type RegistrationController struct {
	Debug           bool
	Logger          Logger
	Repo            RepositoryManager
	Codec           *Codec
	Mailer          *Mailer
	Routes          *RegistrationControllerRoutes
	Views           *RegistrationControllerViews
	MaxAge          time.Duration
	DefaultRedirect string
	Activity        ActivitySink
	OnPasswordSet   PasswordSetListener
	ErrorHandler    router.ErrorHandler
}

type RegistrationControllerOption func(*RegistrationController) *RegistrationController

func NewRegistrationController(opts ...RegistrationControllerOption) *RegistrationController {
	c := &RegistrationController{
		Logger:       defLogger{},
		ErrorHandler: defaultErrHandler,
		MaxAge:       DefaultMaxAge,
		Activity:     noopActivitySink{},
		Routes: &RegistrationControllerRoutes{
			Register: "/register",
		},
		Views: &RegistrationControllerViews{
			Form:        "registration_form",
			Sent:        "registration_sent",
			PasswordSet: "password_set_form",
		},
		DefaultRedirect: "/login",
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in registration controller...")
	}

	if c.Codec == nil {
		panic("Missing Codec in registration controller...")
	}

	if c.Mailer == nil {
		panic("Missing Mailer in registration controller...")
	}

	return c
}

// WithControllerRepository sets the repository manager.
func WithControllerRepository(repo RepositoryManager) RegistrationControllerOption {
	return func(c *RegistrationController) *RegistrationController {
		c.Repo = repo
		return c
	}
}

// WithControllerCodec sets the token codec.
func WithControllerCodec(codec *Codec) RegistrationControllerOption {
	return func(c *RegistrationController) *RegistrationController {
		c.Codec = codec
		return c
	}
}

// WithControllerMailer sets the mailer used for registration links.
func WithControllerMailer(mailer *Mailer) RegistrationControllerOption {
	return func(c *RegistrationController) *RegistrationController {
		c.Mailer = mailer
		return c
	}
}

// WithControllerConfig derives the codec, mailer, accepted link age, and
// default redirect from the host configuration. Delivery is environment
// specific, so the sender still comes from the host.
func WithControllerConfig(cfg Config, sender Sender) RegistrationControllerOption {
	return func(c *RegistrationController) *RegistrationController {
		c.Codec = NewCodec([]byte(cfg.GetSigningKey()))
		c.Mailer = NewMailer(sender,
			WithMailerBaseURL(cfg.GetBaseURL()),
			WithMailerFrom(cfg.GetMailFrom()),
		)
		if maxAge := cfg.GetMaxAge(); maxAge > 0 {
			c.MaxAge = maxAge
		}
		if target := cfg.GetDefaultRedirect(); target != "" {
			c.DefaultRedirect = target
		}
		return c
	}
}

// WithControllerLogger overrides the logger.
func WithControllerLogger(logger Logger) RegistrationControllerOption {
	return func(c *RegistrationController) *RegistrationController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// WithControllerMaxAge overrides the accepted link age for this route
// registration. Mount the controller a second time with a short value to
// create a short-expiry variant for operational testing.
func WithControllerMaxAge(maxAge time.Duration) RegistrationControllerOption {
	return func(c *RegistrationController) *RegistrationController {
		if maxAge > 0 {
			c.MaxAge = maxAge
		}
		return c
	}
}

// WithControllerRoutes overrides the default routes.
func WithControllerRoutes(routes *RegistrationControllerRoutes) RegistrationControllerOption {
	return func(c *RegistrationController) *RegistrationController {
		if routes != nil {
			c.Routes = routes
		}
		return c
	}
}

// WithControllerViews overrides the default view names.
func WithControllerViews(views *RegistrationControllerViews) RegistrationControllerOption {
	return func(c *RegistrationController) *RegistrationController {
		if views != nil {
			c.Views = views
		}
		return c
	}
}

// WithControllerDefaultRedirect sets the safe landing location used after
// rejections and as the fallback success target.
func WithControllerDefaultRedirect(target string) RegistrationControllerOption {
	return func(c *RegistrationController) *RegistrationController {
		if target != "" {
			c.DefaultRedirect = target
		}
		return c
	}
}

// WithControllerActivitySink sets the sink handed to the command handlers.
func WithControllerActivitySink(sink ActivitySink) RegistrationControllerOption {
	return func(c *RegistrationController) *RegistrationController {
		c.Activity = normalizeActivitySink(sink)
		return c
	}
}

// WithControllerPasswordSetListener injects the host collaborator invoked
// after a successful password set, e.g. JWTAutoLogin.
func WithControllerPasswordSetListener(listener PasswordSetListener) RegistrationControllerOption {
	return func(c *RegistrationController) *RegistrationController {
		c.OnPasswordSet = listener
		return c
	}
}

// WithControllerDebug enables verbose payload dumps.
func WithControllerDebug(debug bool) RegistrationControllerOption {
	return func(c *RegistrationController) *RegistrationController {
		c.Debug = debug
		return c
	}
}

func (a *RegistrationController) RegistrationShow(ctx router.Context) error {
	return ctx.Render(a.Views.Form, router.ViewContext{
		"errors": map[string]string{},
		"record": RegistrationRequestPayload{},
	})
}

// RegistrationRequestPayload is the email form payload.
type RegistrationRequestPayload struct {
	Email      string `form:"email" json:"email"`
	RedirectTo string `form:"redirect_to" json:"redirect_to"`
}

// Validate will run validation rules
func (r RegistrationRequestPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			validation.Length(6, 100),
			is.Email,
		),
	)
}

func (a *RegistrationController) RegistrationCreate(ctx router.Context) error {
	payload := new(RegistrationRequestPayload)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("registration request parse payload: %v", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error parsing body",
		}).Status(fiber.StatusBadRequest).Render(a.Views.Form, router.ViewContext{
			"errors": map[string]string{"form": "Failed to parse form"},
			"record": payload,
		})
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("registration request validate payload: %v", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error validating payload",
		}).Render(a.Views.Form, router.ViewContext{
			"record":     payload,
			"validation": FormatValidationErrorToMap(err),
		})
	}

	if a.Debug {
		fmt.Println("======= REGISTRATION REQUEST ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("===================================")
	}

	var res *RequestRegistrationResponse

	req := RequestRegistrationMessage{
		Email:      payload.Email,
		RedirectTo: payload.RedirectTo,
		OnResponse: func(resp *RequestRegistrationResponse) {
			res = resp
		},
	}

	requestHandler := NewRequestRegistrationHandler(a.Repo, a.Codec, a.Mailer).
		WithLogger(a.Logger)

	if err := requestHandler.Execute(ctx.Context(), req); err != nil {
		if IsAlreadyRegistered(err) {
			return ctx.Render(a.Views.Form, router.ViewContext{
				"record": payload,
				"errors": map[string]string{"email": ErrAlreadyRegistered.Message},
			})
		}

		a.Logger.Error("registration request error: %v", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error sending registration link",
		}).Render(a.Views.Form, router.ViewContext{
			"record": payload,
			"errors": map[string]string{"form": "Could not send the registration link"},
		})
	}

	if res == nil || !res.Success {
		return a.ErrorHandler(ctx, errors.New("registration request produced no response"))
	}

	return ctx.Render(a.Views.Sent, router.ViewContext{
		"email": payload.Email,
	})
}

func (a *RegistrationController) ConfirmationShow(ctx router.Context) error {
	code := ctx.Param("code", "")

	var res *ConfirmRegistrationResponse

	input := ConfirmRegistrationMessage{
		Code:   code,
		MaxAge: a.MaxAge,
		OnResponse: func(resp *ConfirmRegistrationResponse) {
			res = resp
		},
	}

	confirmHandler := NewConfirmRegistrationHandler(a.Repo, a.Codec).
		WithStateMachine(a.stateMachine()).
		WithLogger(a.Logger)

	if err := confirmHandler.Execute(ctx.Context(), input); err != nil {
		a.Logger.Error("registration confirm error: %v", err)
		return a.ErrorHandler(ctx, err)
	}

	if a.Debug {
		fmt.Println("======= REGISTRATION CONFIRM ======")
		fmt.Println(print.MaybePrettyJSON(res))
		fmt.Println("===================================")
	}

	if res.Outcome == OutcomeRejected {
		return flash.WithError(ctx, router.ViewContext{
			"error_message": res.Message,
		}).Redirect(a.DefaultRedirect, fiber.StatusSeeOther)
	}

	return ctx.Render(a.Views.PasswordSet, router.ViewContext{
		"errors":   map[string]string{},
		"record":   PasswordSetPayload{},
		"code":     code,
		"email":    res.Email,
		"new_user": res.NewUser,
	})
}

// PasswordSetPayload holds the password pair for the final submission.
type PasswordSetPayload struct {
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r PasswordSetPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Password,
			validation.Required,
			validation.Length(6, 100),
		),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.Length(6, 100),
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *RegistrationController) ConfirmationExecute(ctx router.Context) error {
	code := ctx.Param("code", "")
	payload := new(PasswordSetPayload)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("password set parse payload: %v", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error parsing body",
		}).Status(fiber.StatusBadRequest).Render(a.Views.PasswordSet, router.ViewContext{
			"errors": map[string]string{"form": "Failed to parse form"},
			"record": payload,
			"code":   code,
		})
	}

	// Local, recoverable failure: redisplay the form with field errors,
	// never a redirect.
	if err := payload.Validate(); err != nil {
		a.Logger.Error("password set validate payload: %v", err)
		return ctx.Render(a.Views.PasswordSet, router.ViewContext{
			"record":     payload,
			"validation": FormatValidationErrorToMap(err),
			"code":       code,
		})
	}

	var res *SetPasswordResponse

	input := SetPasswordMessage{
		Code:     code,
		MaxAge:   a.MaxAge,
		Password: payload.Password,
		OnResponse: func(resp *SetPasswordResponse) {
			res = resp
		},
	}

	setHandler := NewSetPasswordHandler(a.Repo, a.Codec).
		WithStateMachine(a.stateMachine()).
		WithActivitySink(a.Activity).
		WithLogger(a.Logger)

	if err := setHandler.Execute(ctx.Context(), input); err != nil {
		a.Logger.Error("password set error: %v", err)
		return a.ErrorHandler(ctx, err)
	}

	if res.Outcome == OutcomeRejected {
		return flash.WithError(ctx, router.ViewContext{
			"error_message": res.Message,
		}).Redirect(a.DefaultRedirect, fiber.StatusSeeOther)
	}

	if a.OnPasswordSet != nil {
		if err := a.OnPasswordSet(ctx.Context(), ctx, res.User, payload.Password); err != nil {
			a.Logger.Error("password set listener error: %v", err)
		}
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": res.Message,
	}).Redirect(a.redirectTarget(res.RedirectTo), fiber.StatusSeeOther)
}

func (a *RegistrationController) stateMachine() ConfirmationStateMachine {
	return NewConfirmationStateMachine(
		a.Repo,
		WithConfirmationActivitySink(a.Activity),
		WithConfirmationLogger(a.Logger),
	)
}

func (a *RegistrationController) redirectTarget(target string) string {
	if target != "" {
		return target
	}
	return a.DefaultRedirect
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

func defaultErrHandler(c router.Context, err error) error {
	return c.Render("errors/500", router.ViewContext{
		"message": err.Error(),
	})
}
