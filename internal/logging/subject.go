package logging

import "strings"

// FormatSubject builds the routing/harvest/collection subject string used in console output.
func FormatSubject(routingKey, harvestID, collectionID string) string {
	routingKey = strings.TrimSpace(routingKey)
	harvestID = strings.TrimSpace(harvestID)
	collectionID = strings.TrimSpace(collectionID)
	parts := make([]string, 0, 3)
	if routingKey != "" {
		parts = append(parts, routingKey)
	}
	switch {
	case harvestID != "" && collectionID != "":
		parts = append(parts, "Harvest "+harvestID+" ("+collectionID+")")
	case harvestID != "":
		parts = append(parts, "Harvest "+harvestID)
	case collectionID != "":
		parts = append(parts, "Collection "+collectionID)
	}
	return strings.Join(parts, " · ")
}
