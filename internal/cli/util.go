package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func loadBody(body, bodyFile string) (string, error) {
	if bodyFile == "" {
		return body, nil
	}
	if body != "" {
		return "", fmt.Errorf("use either --body or --body-file")
	}
	data, err := os.ReadFile(bodyFile)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func parseUID(value string) (uint32, error) {
	uid, err := strconv.ParseUint(strings.TrimSpace(value), 10, 32)
	if err != nil || uid == 0 {
		return 0, fmt.Errorf("invalid uid: %s", value)
	}
	return uint32(uid), nil
}
