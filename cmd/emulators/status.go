package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/core-tools/hsu-emulators/pkg/hub"
	"github.com/core-tools/hsu-emulators/pkg/locator"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

type statusCommand struct {
	Project string        `long:"project" description:"Project whose hub to query"`
	Timeout time.Duration `long:"timeout" description:"Per-emulator query timeout" default:"2s"`
	JSON    bool          `long:"json" description:"Print JSON instead of a table"`
}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	servingStyle = cellStyle.Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "114"})
	downStyle    = cellStyle.Foreground(lipgloss.AdaptiveColor{Light: "160", Dark: "203"})
)

type statusReport struct {
	Project   string               `json:"project"`
	RunID     string               `json:"runId"`
	Hub       string               `json:"hub"`
	StartedAt time.Time            `json:"startedAt"`
	Emulators []hub.EmulatorStatus `json:"emulators"`
}

func (c *statusCommand) Execute(args []string) error {
	s, logger, sync, err := setup()
	if err != nil {
		return err
	}
	defer sync()

	loc, err := locator.NewManager(locator.Config{BaseDirectory: s.LocatorDir}, logger).ReadLive(c.Project)
	if err != nil {
		return err
	}

	statuses, err := hub.QueryStatus(context.Background(), loc, c.Timeout)
	if err != nil {
		return err
	}

	if c.JSON {
		out, err := sonic.ConfigStd.MarshalIndent(statusReport{
			Project:   loc.Project,
			RunID:     loc.RunID,
			Hub:       fmt.Sprintf("%s:%d", loc.Host, loc.Port),
			StartedAt: loc.StartedAt,
			Emulators: statuses,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Hub %s:%d (project: %s, run: %s, up since %s)\n",
		loc.Host, loc.Port, loc.Project, loc.RunID, loc.StartedAt.Format(time.RFC3339))
	fmt.Println(renderStatus(statuses))
	return nil
}

func renderStatus(statuses []hub.EmulatorStatus) string {
	rows := make([][]string, 0, len(statuses))
	for _, status := range statuses {
		rows = append(rows, []string{status.Name, status.Host, strconv.Itoa(status.Port), status.Status})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("EMULATOR", "HOST", "PORT", "STATUS").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 3 && rows[row][3] == "SERVING":
				return servingStyle
			case col == 3:
				return downStyle
			default:
				return cellStyle
			}
		}).
		String()
}
