package embedding

import "fmt"

// RemoteServiceError reports a failed call to a remote collaborator: the
// embedding vendor or the vector-search service. Status is zero when the
// request never produced an HTTP response (transport error, timeout).
type RemoteServiceError struct {
	Service string
	Status  int
	Message string
}

func (e *RemoteServiceError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s service: %s", e.Service, e.Message)
	}
	return fmt.Sprintf("%s service returned %d: %s", e.Service, e.Status, e.Message)
}
