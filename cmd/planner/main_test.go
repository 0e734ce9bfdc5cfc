package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoopback(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8080", loopback(":8080"))
	assert.Equal(t, "10.0.0.2:9000", loopback("10.0.0.2:9000"))
}
