package conversation

import "fmt"

func panicSafeNamedCallback(name string, callback func()) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%s callback panicked: %v", name, recovered)
		}
	}()

	callback()
	return nil
}
