// Package export renders event data as downloadable files.
package export

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"pointshub/internal/model"

	ics "github.com/arran4/golang-ical"
	"github.com/xuri/excelize/v2"
)

const guestSheet = "Guests"

var guestHeader = []string{"ID", "UTORid", "Name", "Email"}

// GuestsXLSX 生成活动来宾名单工作簿。第一行是表头，每位来宾一行。
func GuestsXLSX(e *model.Event) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", guestSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	for i, h := range guestHeader {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(guestSheet, cell, h); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	for i, g := range e.Guests {
		row := strconv.Itoa(i + 2)
		values := map[string]any{
			"A" + row: g.ID,
			"B" + row: g.Utorid,
			"C" + row: g.Name,
			"D" + row: g.Email,
		}
		for cell, v := range values {
			if err := f.SetCellValue(guestSheet, cell, v); err != nil {
				return nil, fmt.Errorf("write guest %d: %w", g.ID, err)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// GuestsFilename is the attachment name for GuestsXLSX.
func GuestsFilename(e *model.Event) string {
	return fmt.Sprintf("event-%d-guests.xlsx", e.ID)
}

// EventICS 把单个活动序列化为 iCalendar，带开始前一小时的提醒。
func EventICS(e *model.Event, now time.Time) ([]byte, error) {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//PointsHub//EN")
	cal.SetVersion("2.0")
	cal.SetCalscale("GREGORIAN")

	ev := cal.AddEvent(fmt.Sprintf("event-%d@pointshub", e.ID))
	ev.SetDtStampTime(now)
	ev.SetCreatedTime(e.CreatedAt)
	ev.SetModifiedAt(now)
	ev.SetStartAt(e.StartTime)
	ev.SetEndAt(e.EndTime)
	ev.SetSummary(e.Name)
	ev.SetDescription(e.Description)
	ev.SetLocation(e.Location)
	ev.SetStatus(ics.ObjectStatusConfirmed)

	alarm := ev.AddAlarm()
	alarm.SetAction(ics.ActionDisplay)
	alarm.AddProperty("TRIGGER;VALUE=DURATION", "-PT1H")
	alarm.SetDescription(e.Name + " starts in one hour")

	var buf bytes.Buffer
	if err := cal.SerializeTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize calendar: %w", err)
	}
	return buf.Bytes(), nil
}

// CalendarFilename is the attachment name for EventICS.
func CalendarFilename(e *model.Event) string {
	return fmt.Sprintf("event-%d.ics", e.ID)
}
