// internal/errors/errors.go
package errors

import "fmt"

// ErrGraphQL is returned when the API answers 200 but carries an errors
// array in the response body. The page payload cannot be trusted, so the
// request must not be retried.
type ErrGraphQL struct {
	Messages []string
}

func (e *ErrGraphQL) Error() string {
	return fmt.Sprintf("graphql errors in response: %v", e.Messages)
}

// ErrHTTPStatus is returned when the API answers with a non-200 status.
type ErrHTTPStatus struct {
	StatusCode int
	Body       string
}

func (e *ErrHTTPStatus) Error() string {
	return fmt.Sprintf("api request failed with status %d: %s", e.StatusCode, e.Body)
}
