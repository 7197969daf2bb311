package handlers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"aggtree/models"
)

var ErrInvalidArgument = errors.New("invalid argument")

// BuildSubmit parses a decimal amount into a Submit operation
func BuildSubmit(value string) (models.Operation, error) {
	v, err := parseAmount(value)
	if err != nil {
		return models.Operation{}, err
	}
	return models.Submit(v), nil
}

// BuildConnectToParent validates a parent id into a ConnectToParent operation
func BuildConnectToParent(parent string) (models.Operation, error) {
	parent = strings.TrimSpace(parent)
	if parent == "" {
		return models.Operation{}, fmt.Errorf("%w: parent must not be empty", ErrInvalidArgument)
	}
	return models.ConnectToParent(models.NodeID(parent)), nil
}

func BuildFlush() models.Operation {
	return models.Flush()
}

// parseAmount accepts a base-10 uint64; an empty string is zero
func parseAmount(value string) (uint64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: value %q is not a uint64", ErrInvalidArgument, value)
	}
	return v, nil
}
