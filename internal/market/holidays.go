package market

// Exchange holiday calendars, keyed by year. Finite, versioned tables in the
// NYSE published format; dates are exchange-local YYYY-MM-DD. Years outside
// the table are treated as having no holidays, so stale builds degrade to
// weekend-only closure instead of guessing.

var usMarketHolidays = map[int][]string{
	2025: {
		"2025-01-01", // New Year's Day
		"2025-01-20", // Martin Luther King Jr. Day
		"2025-02-17", // Washington's Birthday
		"2025-04-18", // Good Friday
		"2025-05-26", // Memorial Day
		"2025-06-19", // Juneteenth
		"2025-07-04", // Independence Day
		"2025-09-01", // Labor Day
		"2025-11-27", // Thanksgiving Day
		"2025-12-25", // Christmas Day
	},
	2026: {
		"2026-01-01",
		"2026-01-19",
		"2026-02-16",
		"2026-04-03",
		"2026-05-25",
		"2026-06-19",
		"2026-07-03", // Independence Day (observed)
		"2026-09-07",
		"2026-11-26",
		"2026-12-25",
	},
	2027: {
		"2027-01-01",
		"2027-01-18",
		"2027-02-15",
		"2027-03-26",
		"2027-05-31",
		"2027-06-18", // Juneteenth (observed)
		"2027-07-05", // Independence Day (observed)
		"2027-09-06",
		"2027-11-25",
		"2027-12-24", // Christmas Day (observed)
	},
}

// KRX closures beyond weekends. Lunar-calendar holidays shift yearly, so the
// table is year-keyed like the US one.
var krxMarketHolidays = map[int][]string{
	2025: {
		"2025-01-01",
		"2025-01-28", "2025-01-29", "2025-01-30", // Seollal
		"2025-03-03", // Independence Movement Day (observed)
		"2025-05-05", // Children's Day / Buddha's Birthday
		"2025-05-06", // observed
		"2025-06-06", // Memorial Day
		"2025-08-15", // Liberation Day
		"2025-10-03", // National Foundation Day
		"2025-10-06", "2025-10-07", "2025-10-08", // Chuseok
		"2025-10-09", // Hangul Day
		"2025-12-25",
		"2025-12-31", // year-end closing
	},
	2026: {
		"2026-01-01",
		"2026-02-16", "2026-02-17", "2026-02-18", // Seollal
		"2026-03-02", // Independence Movement Day (observed)
		"2026-05-05",
		"2026-05-25", // Buddha's Birthday (observed)
		"2026-06-08", // Memorial Day (observed)
		"2026-08-17", // Liberation Day (observed)
		"2026-09-24", "2026-09-25", // Chuseok
		"2026-10-05", // National Foundation Day (observed)
		"2026-10-09",
		"2026-12-25",
		"2026-12-31",
	},
}
