package testutil

import (
	"fmt"

	"github.com/google/uuid"
)

func RandomUserName() string {
	return fmt.Sprintf("user-%s", uuid.NewString()[:8])
}

func RandomPassword() string {
	return uuid.NewString()
}
