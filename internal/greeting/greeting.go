// Package greeting prints the hello-world banner.
package greeting

import (
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/scttfrdmn/devblock/internal/tensor"
)

// DefaultArgument is echoed when no argument is given.
const DefaultArgument = "DefaultArgument"

// ExampleArray returns the fixed array the greeting prints.
func ExampleArray() *tensor.Tensor {
	return tensor.FromValues([]float64{1, 2, 3, 4, 5})
}

// Greet writes the banner, the received argument and the example array to w.
func Greet(w io.Writer, argument string) error {
	_, err := fmt.Fprintf(w, "Hello, World!\nReceived argument: %s\nHere's a simple array: %s\n",
		argument, ExampleArray().Format())
	return errors.Wrap(err, "write greeting")
}
