package service

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidPlate rejects recognized text that is not a well-formed plate.
	ErrInvalidPlate = errors.New("invalid plate")
	// ErrCooldown rejects a submission for a track saved within the cooldown window.
	ErrCooldown  = errors.New("cooldown active")
	ErrQueueFull = errors.New("persistence queue full")
	ErrClosed    = errors.New("dispatcher closed")
)
