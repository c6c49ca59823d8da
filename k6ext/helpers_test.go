package k6ext

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"go.k6.io/k6/output"
)

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o600)
}

func outputParams() output.Params {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return output.Params{Logger: logger}
}
