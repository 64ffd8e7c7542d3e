package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/types"
)

// fail maps domain errors onto HTTP responses. No-work and contention are
// expected outcomes and reported as such, not as server failures.
func fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return c.Status(404).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "ERR_NOT_FOUND",
		})
	case errors.Is(err, types.ErrNoWorkAvailable):
		return c.Status(200).JSON(fiber.Map{
			"status": "no_work_available",
		})
	case errors.Is(err, types.ErrLockContention):
		return c.Status(409).JSON(fiber.Map{
			"error": "Requested resources are locked by another task",
			"code":  "ERR_LOCKED",
		})
	case errors.Is(err, types.ErrPreconditionFailed):
		return c.Status(409).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "ERR_PRECONDITION",
		})
	}
	return c.Status(500).JSON(fiber.Map{
		"error": err.Error(),
		"code":  "ERR_INTERNAL",
	})
}

func badRequest(c *fiber.Ctx, message, code string) error {
	return c.Status(400).JSON(fiber.Map{
		"error": message,
		"code":  code,
	})
}
