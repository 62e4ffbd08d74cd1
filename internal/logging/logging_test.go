package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactScrubsCredentials(t *testing.T) {
	cases := map[string]string{
		"failed to connect to `host=db user=app password=hunter2 dbname=waste`": "failed to connect to `host=db user=app password=[REDACTED] dbname=waste`",
		"dial postgres://app:hunter2@db:5432/waste failed":                   "dial postgres://app:[REDACTED]@db:5432/waste failed",
		"app:hunter2@tcp(db:3306)/waste":                                     "app:[REDACTED]@tcp(db:3306)/waste",
		"no secrets here":                                                    "no secrets here",
	}
	for in, want := range cases {
		assert.Equal(t, want, Redact(in), in)
	}
}

func TestOperationErrorUnwraps(t *testing.T) {
	base := errors.New("boom")
	err := NewOperationError("repository.create", "req-1", base)

	assert.ErrorIs(t, err, base)
	assert.Equal(t, "repository.create (request_id=req-1): boom", err.Error())
	assert.Nil(t, NewOperationError("noop", "", nil))
}

func TestOperationOfFindsOutermostOperation(t *testing.T) {
	inner := NewOperationError("repository.create", "req-1", errors.New("boom"))
	outer := NewOperationError("usecase.persist", "req-1", inner)

	assert.Equal(t, "usecase.persist", OperationOf(outer))
	assert.Equal(t, "repository.create", OperationOf(inner))
	assert.Empty(t, OperationOf(errors.New("plain")))
}
