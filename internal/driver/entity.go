package driver

import (
	"fmt"
	"strconv"
	"strings"
)

// Entity types the router serves.
const (
	EntityTypeLight = "light"
	EntityTypeCover = "cover"
)

// EntityID builds the canonical {type}.{controller}.{node} identifier.
func EntityID(entityType, controllerID string, nodeID int) string {
	return fmt.Sprintf("%s.%s.%d", entityType, controllerID, nodeID)
}

// SplitEntityID parses an identifier back into its parts. The controller
// segment may itself contain dots; the type is the first segment and the
// node the last.
func SplitEntityID(id string) (entityType, controllerID string, nodeID int, err error) {
	first := strings.Index(id, ".")
	last := strings.LastIndex(id, ".")
	if first < 0 || first == last {
		return "", "", 0, fmt.Errorf("%w: %q", ErrInvalidEntityID, id)
	}

	entityType = id[:first]
	controllerID = id[first+1 : last]
	if entityType == "" || controllerID == "" {
		return "", "", 0, fmt.Errorf("%w: %q", ErrInvalidEntityID, id)
	}

	nodeID, convErr := strconv.Atoi(id[last+1:])
	if convErr != nil || nodeID < 1 {
		return "", "", 0, fmt.Errorf("%w: %q: bad node segment", ErrInvalidEntityID, id)
	}
	return entityType, controllerID, nodeID, nil
}
