package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// newConfirmationCode generates the 6-digit code a donor hands over in
// person before the donation may start.
func newConfirmationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate confirmation code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
