package main

import (
	"fmt"

	"github.com/pterm/pterm"

	"github.com/thatsimonsguy/bms-acquisition/internal/model"
)

func voltageTable(c model.Cycle) pterm.TableData {
	cells := 0
	for _, row := range c.Voltages {
		if len(row) > cells {
			cells = len(row)
		}
	}

	header := []string{"device"}
	for i := 0; i < cells; i++ {
		header = append(header, fmt.Sprintf("c%d", i))
	}
	data := pterm.TableData{header}
	for d, row := range c.Voltages {
		line := []string{fmt.Sprint(d)}
		for _, code := range row {
			line = append(line, fmt.Sprint(code))
		}
		data = append(data, line)
	}
	return data
}

func temperatureTable(c model.Cycle) pterm.TableData {
	channels := 0
	for _, row := range c.Temperatures {
		if len(row) > channels {
			channels = len(row)
		}
	}

	header := []string{"device"}
	for i := 0; i < channels; i++ {
		header = append(header, fmt.Sprintf("t%d", i))
	}
	data := pterm.TableData{header}
	for d, row := range c.Temperatures {
		line := []string{fmt.Sprint(d)}
		for _, tenths := range row {
			line = append(line, fmt.Sprintf("%.1f", float64(tenths)/10))
		}
		data = append(data, line)
	}
	return data
}

func historyTable(cycles []model.Cycle) pterm.TableData {
	data := pterm.TableData{{"seq", "started", "duration", "fault", "errors"}}
	for _, c := range cycles {
		data = append(data, []string{
			fmt.Sprint(c.Seq),
			c.StartedAt.Format("15:04:05.000"),
			c.Duration.String(),
			fmt.Sprint(c.Fault),
			fmt.Sprint(c.Errors),
		})
	}
	return data
}
