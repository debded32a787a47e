package commands

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/go-playground/validator/v10"
)

var targetNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type addTargetArgs struct {
	Name string `validate:"required,max=50,targetname"`
	IP   string `validate:"required,ip"`
	Port int    `validate:"min=1,max=65535"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("targetname", func(fl validator.FieldLevel) bool {
		return targetNameRe.MatchString(fl.Field().String())
	})
	return v
}

var validate = newValidator()

// parseAddTarget validates "/addtarget <name> <ip> <port>" arguments and
// returns the user-facing reason on failure.
func parseAddTarget(args []string) (addTargetArgs, string) {
	port, err := strconv.Atoi(args[2])
	if err != nil {
		return addTargetArgs{}, fmt.Sprintf("Invalid port: %s (must be 1-65535)", args[2])
	}
	a := addTargetArgs{Name: args[0], IP: args[1], Port: port}
	if err := validate.Struct(a); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) || len(ve) == 0 {
			return addTargetArgs{}, "Invalid arguments"
		}
		switch ve[0].Field() {
		case "IP":
			return addTargetArgs{}, "Invalid IP address: " + a.IP
		case "Port":
			return addTargetArgs{}, fmt.Sprintf("Invalid port: %s (must be 1-65535)", args[2])
		default:
			return addTargetArgs{}, "Invalid name (max 50 chars, alphanumeric + _ - only)"
		}
	}
	return a, ""
}

// checkInterval validates a /setinterval value against the minimum.
func checkInterval(seconds, minSeconds int) error {
	return validate.Var(seconds, "gte="+strconv.Itoa(minSeconds))
}
