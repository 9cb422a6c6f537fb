package middleware

import "github.com/gofiber/fiber/v2"

// settle renders a chain error through the app's error handler so the response status is final,
// then returns that status. Middleware that calls it must return nil afterwards.
func settle(c *fiber.Ctx, err error) (int, error) {
	if err != nil {
		if herr := c.App().ErrorHandler(c, err); herr != nil {
			_ = c.SendStatus(fiber.StatusInternalServerError)
		}
	}
	return c.Response().StatusCode(), nil
}
