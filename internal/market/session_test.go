package market

import (
	"testing"
	"time"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %s: %v", name, err)
	}
	return loc
}

func TestClassifyUSBoundaries(t *testing.T) {
	ny := mustLoc(t, "America/New_York")
	cal, err := CalendarByName(CalendarUS)
	if err != nil {
		t.Fatal(err)
	}

	// 2025-03-05 is a Wednesday with no holiday.
	day := func(h, m int) time.Time {
		return time.Date(2025, 3, 5, h, m, 0, 0, ny)
	}

	cases := []struct {
		at   time.Time
		want Session
	}{
		{day(3, 59), SessionClosed},
		{day(4, 0), SessionPre},
		{day(9, 29), SessionPre},
		{day(9, 30), SessionRegular},
		{day(15, 59), SessionRegular},
		{day(16, 0), SessionPost},
		{day(19, 59), SessionPost},
		{day(20, 0), SessionClosed},
		{day(23, 30), SessionClosed},
	}
	for _, tc := range cases {
		if got := cal.Classify(tc.at); got != tc.want {
			t.Errorf("Classify(%s) = %s, want %s", tc.at.Format("15:04"), got, tc.want)
		}
	}
}

func TestClassifyUSDaylightSaving(t *testing.T) {
	cal, _ := CalendarByName(CalendarUS)
	// Same wall-clock instant expressed in UTC under EDT (July) and EST
	// (December): 14:30 UTC is 10:30 ET in July but 09:30 ET in December.
	july := time.Date(2025, 7, 9, 14, 30, 0, 0, time.UTC)
	if got := cal.Classify(july); got != SessionRegular {
		t.Errorf("July 14:30 UTC = %s, want REGULAR", got)
	}
	dec := time.Date(2025, 12, 10, 14, 30, 0, 0, time.UTC)
	if got := cal.Classify(dec); got != SessionRegular {
		t.Errorf("December 14:30 UTC = %s, want REGULAR", got)
	}
	// 13:30 UTC in December is 08:30 ET: still pre-market.
	decPre := time.Date(2025, 12, 10, 13, 30, 0, 0, time.UTC)
	if got := cal.Classify(decPre); got != SessionPre {
		t.Errorf("December 13:30 UTC = %s, want PRE", got)
	}
}

func TestClassifyWeekendAndHoliday(t *testing.T) {
	ny := mustLoc(t, "America/New_York")
	cal, _ := CalendarByName(CalendarUS)

	sat := time.Date(2025, 3, 8, 12, 0, 0, 0, ny)
	if got := cal.Classify(sat); got != SessionClosed {
		t.Errorf("Saturday noon = %s, want CLOSED", got)
	}
	sun := time.Date(2025, 3, 9, 10, 0, 0, 0, ny)
	if got := cal.Classify(sun); got != SessionClosed {
		t.Errorf("Sunday = %s, want CLOSED", got)
	}
	// Independence Day 2025 falls on a Friday; mid-session hours still closed.
	july4 := time.Date(2025, 7, 4, 10, 0, 0, 0, ny)
	if got := cal.Classify(july4); got != SessionClosed {
		t.Errorf("holiday = %s, want CLOSED", got)
	}
}

func TestClassifyKRX(t *testing.T) {
	seoul := mustLoc(t, "Asia/Seoul")
	cal, err := CalendarByName(CalendarKRX)
	if err != nil {
		t.Fatal(err)
	}

	day := func(h, m int) time.Time {
		return time.Date(2025, 3, 5, h, m, 0, 0, seoul)
	}
	cases := []struct {
		at   time.Time
		want Session
	}{
		{day(8, 59), SessionClosed}, // no pre session on KRX
		{day(9, 0), SessionRegular},
		{day(15, 29), SessionRegular},
		{day(15, 30), SessionClosed}, // no post session either
		{day(18, 0), SessionClosed},
	}
	for _, tc := range cases {
		if got := cal.Classify(tc.at); got != tc.want {
			t.Errorf("KRX Classify(%s) = %s, want %s", tc.at.Format("15:04"), got, tc.want)
		}
	}

	chuseok := time.Date(2025, 10, 6, 10, 0, 0, 0, seoul)
	if got := cal.Classify(chuseok); got != SessionClosed {
		t.Errorf("Chuseok = %s, want CLOSED", got)
	}
}

func TestClassifySymbolContinuous(t *testing.T) {
	info := Info{Symbol: "BTC-USD", Name: "Bitcoin", Type: TypeCrypto, Adapter: AdapterStream}
	if got := ClassifySymbol(info, time.Now()); got != SessionNone {
		t.Errorf("continuous asset session = %q, want none", got)
	}
}

func TestCloseAt(t *testing.T) {
	ny := mustLoc(t, "America/New_York")
	cal, _ := CalendarByName(CalendarUS)

	at := time.Date(2025, 3, 5, 10, 0, 0, 0, ny)
	closeAt, err := cal.CloseAt(at)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2025, 3, 5, 16, 0, 0, 0, ny)
	if !closeAt.Equal(want) {
		t.Errorf("CloseAt = %s, want %s", closeAt, want)
	}
}
