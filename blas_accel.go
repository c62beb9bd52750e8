//go:build accelerate

package main

// #cgo LDFLAGS: -framework Accelerate
import "C"
import (
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/netlib/blas/netlib"
)

// With -tags accelerate gonum's blas64 calls go through netlib's cblas
// binding, which the Accelerate framework satisfies on macOS.
func init() {
	blas64.Use(netlib.Implementation{})
}
