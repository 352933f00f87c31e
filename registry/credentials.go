/*
Copyright © 2025 Jayson Grace <jayson.e.grace@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

// Package registry manages scoped registry logins.
//
// A Session logs in to every registry host a workflow touches before the
// first registry operation and logs out again when the workflow ends,
// whether it succeeded or not. Credentials are passed in explicitly by the
// command layer and registered with the logger's secret masker so they never
// reach the console.
package registry

import (
	"github.com/cowdogmoo/containmint/errors"
)

// Environment variables holding registry credentials.
const (
	UsernameEnv = "CONTAINMINT_USERNAME"
	PasswordEnv = "CONTAINMINT_PASSWORD"
)

// Credentials for a registry login.
type Credentials struct {
	Username string
	Password string
}

// String never includes the password.
func (c Credentials) String() string {
	return "username=" + c.Username + " password=*****"
}

// GoString keeps the password out of %#v.
func (c Credentials) GoString() string {
	return "registry.Credentials{" + c.String() + "}"
}

// FromEnv reads credentials with lookup (os.LookupEnv in production). Both
// variables are required; a missing or empty one is a ConfigError naming it.
// Callers that skip login never call FromEnv.
func FromEnv(lookup func(string) (string, bool)) (*Credentials, error) {
	username, _ := lookup(UsernameEnv)
	password, _ := lookup(PasswordEnv)

	switch {
	case username == "":
		return nil, errors.NewConfigError(UsernameEnv, "must be set to log in to the registry (or pass --no-login)")
	case password == "":
		return nil, errors.NewConfigError(PasswordEnv, "must be set to log in to the registry (or pass --no-login)")
	}
	return &Credentials{Username: username, Password: password}, nil
}
