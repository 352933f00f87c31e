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

package ec2

import (
	"fmt"
	"strings"

	"github.com/aws/smithy-go"
	"github.com/samber/lo"

	"github.com/cowdogmoo/containmint/broker"
	"github.com/cowdogmoo/containmint/errors"
)

// APIError is an EC2 failure with a remediation hint. It unwraps to both the
// SDK error and the broker error class it was mapped to.
type APIError struct {
	Message     string
	Cause       error
	Class       error
	Remediation string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Message, e.Cause)
	if e.Remediation != "" {
		return fmt.Sprintf("%s\n\nRemediation: %s", msg, e.Remediation)
	}
	return msg
}

func (e *APIError) Unwrap() []error {
	if e.Class == nil {
		return []error{e.Cause}
	}
	return []error{e.Class, e.Cause}
}

// Error codes returned by the EC2 API.
var (
	unauthorizedCodes = []string{"AuthFailure", "UnauthorizedOperation", "InvalidClientTokenId", "ExpiredToken", "SignatureDoesNotMatch", "OptInRequired"}
	transientCodes    = []string{"RequestLimitExceeded", "Throttling", "ThrottlingException", "InsufficientInstanceCapacity", "InsufficientAddressCapacity", "InternalError", "ServiceUnavailable", "Unavailable"}
	notFoundCodes     = []string{"InvalidInstanceID.NotFound"}
)

// errorPattern matches an error message to a remediation hint.
type errorPattern struct {
	patterns    []string // All patterns must match
	anyPatterns []string // Any of these patterns must match
	msgSuffix   string
	remediation string
}

var errorPatterns = []errorPattern{
	{
		anyPatterns: []string{"AuthFailure", "UnauthorizedOperation", "InvalidClientTokenId", "ExpiredToken"},
		msgSuffix:   "permission denied",
		remediation: "Verify your AWS credentials (AWS_PROFILE, AWS_ACCESS_KEY_ID or SSO session) can call ec2:DescribeImages, ec2:RunInstances, ec2:DescribeInstances, ec2:TerminateInstances and ec2:CreateTags.",
	},
	{
		anyPatterns: []string{"InsufficientInstanceCapacity"},
		msgSuffix:   "no capacity for the instance type",
		remediation: "Retry later, or choose another instance type for the architecture under aws.instance_types in config.",
	},
	{
		anyPatterns: []string{"InvalidSubnet", "SubnetId", "subnet"},
		msgSuffix:   "subnet configuration error",
		remediation: "Verify aws.subnet_id exists in the target region and assigns public IP addresses on launch.",
	},
	{
		anyPatterns: []string{"InvalidGroup", "SecurityGroup", "security group"},
		msgSuffix:   "security group error",
		remediation: "Verify the security groups in aws.security_groups exist in the subnet's VPC and allow inbound SSH.",
	},
	{
		anyPatterns: []string{"InstanceType", "instance type"},
		msgSuffix:   "instance type error",
		remediation: "Verify the instance type is offered in the target region and matches the architecture (Graviton types for aarch64).",
	},
	{
		anyPatterns: []string{"InstanceLimitExceeded", "VcpuLimitExceeded", "quota"},
		msgSuffix:   "AWS service quota exceeded",
		remediation: "You've hit an EC2 service limit. Terminate unused instances or request a quota increase.",
	},
	{
		anyPatterns: []string{"region", "Region"},
		msgSuffix:   "region configuration error",
		remediation: "Specify the region with AWS_REGION or aws.region in config.",
	},
}

// classify maps an SDK error onto a broker error class and attaches a
// remediation hint when one is known.
func classify(context string, err error) error {
	if err == nil {
		return nil
	}

	var class error
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case lo.Contains(unauthorizedCodes, code):
			class = broker.ErrUnauthorized
		case lo.Contains(notFoundCodes, code):
			class = broker.ErrNotFound
		case lo.Contains(transientCodes, code):
			class = broker.ErrTransient
		}
	}

	msg := context
	remediation := ""
	errMsg := err.Error()
	for _, p := range errorPatterns {
		if matchesPattern(errMsg, p) {
			msg = fmt.Sprintf("%s: %s", context, p.msgSuffix)
			remediation = p.remediation
			break
		}
	}

	return &APIError{Message: msg, Cause: err, Class: class, Remediation: remediation}
}

// matchesPattern checks if an error message matches the given pattern
func matchesPattern(errMsg string, p errorPattern) bool {
	for _, pat := range p.patterns {
		if !strings.Contains(errMsg, pat) {
			return false
		}
	}

	if len(p.anyPatterns) > 0 {
		for _, pat := range p.anyPatterns {
			if strings.Contains(errMsg, pat) {
				return true
			}
		}
		return false
	}

	return true
}
