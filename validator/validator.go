package validator

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
)

var (
	once sync.Once
	v    *validator.Validate
)

func validateEthAddress(fl validator.FieldLevel) bool {
	addr, ok := fl.Field().Interface().(string)
	return ok && common.IsHexAddress(addr)
}

// Validator returns a singleton that can be used to validate various objects
func Validator() *validator.Validate {
	once.Do(func() {
		v = validator.New()

		if err := v.RegisterValidation("eth_address", validateEthAddress); err != nil {
			panic("failed to register validation: " + err.Error())
		}
	})
	return v
}
