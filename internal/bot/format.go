package bot

import (
	"fmt"
	"strings"

	"kinobot/internal/storage"
)

var statusLabel = map[storage.CampaignStatus]string{
	storage.StatusRunning:     "running",
	storage.StatusCompleted:   "done",
	storage.StatusCancelled:   "cancelled",
	storage.StatusInterrupted: "interrupted",
}

func formatHistory(list []storage.Campaign) string {
	if len(list) == 0 {
		return "No broadcasts yet."
	}
	var sb strings.Builder
	sb.WriteString("Recent broadcasts:\n")
	for _, c := range list {
		label := statusLabel[c.Status]
		if label == "" {
			label = string(c.Status)
		}
		fmt.Fprintf(&sb, "\n#%d [%s] %s %s\n  %d/%d ok, %d failed",
			c.ID, label, c.StartTime.UTC().Format("2006-01-02 15:04"), c.ContentType,
			c.SuccessCount, c.TotalUsers, c.FailedCount)
		if p := strings.TrimSpace(c.ContentPreview); p != "" {
			fmt.Fprintf(&sb, "\n  %q", p)
		}
	}
	return sb.String()
}
