package random

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Source yields integers in [0, n). Tests swap in a seeded source.
type Source interface {
	Intn(n int) (int, error)
}

// Crypto is a Source backed by crypto/rand.
type Crypto struct{}

func (Crypto) Intn(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("invalid range %d", n)
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("failed to generate random number: %w", err)
	}
	return int(v.Int64()), nil
}

// Pick returns a uniformly chosen element of items.
func Pick[T any](src Source, items []T) (T, error) {
	var zero T
	if len(items) == 0 {
		return zero, fmt.Errorf("pick from empty slice")
	}
	i, err := src.Intn(len(items))
	if err != nil {
		return zero, err
	}
	return items[i], nil
}

// Shuffle performs a Fisher-Yates shuffle of the slice using src.
func Shuffle[T any](src Source, slice []T) error {
	for i := len(slice) - 1; i > 0; i-- {
		j, err := src.Intn(i + 1)
		if err != nil {
			return err
		}
		slice[i], slice[j] = slice[j], slice[i]
	}
	return nil
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// Base36 returns n random characters from [0-9a-z].
func Base36(src Source, n int) (string, error) {
	buf := make([]byte, n)
	for i := range buf {
		j, err := src.Intn(len(base36))
		if err != nil {
			return "", err
		}
		buf[i] = base36[j]
	}
	return string(buf), nil
}
