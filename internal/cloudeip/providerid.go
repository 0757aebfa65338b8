package cloudeip

import (
	"fmt"
	"strings"
)

// instanceIDFromProviderID extracts the trailing instance id from a Node's
// spec.providerID (aws:///us-east-1a/i-0123456789abcdef0). The instance id
// is always the last path segment regardless of how many AZ/region
// segments precede it.
func instanceIDFromProviderID(providerID string) (string, error) {
	idx := strings.LastIndex(providerID, "/")
	if idx < 0 || idx == len(providerID)-1 {
		return "", fmt.Errorf("provider id %q has no instance id segment", providerID)
	}
	return providerID[idx+1:], nil
}
