package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// 2026-08-24 is a Monday.
func monday(hour, minute int) time.Time {
	return time.Date(2026, 8, 24, hour, minute, 0, 0, time.Local)
}

func TestCalendar_IsTradingDay_Weekend(t *testing.T) {
	cal := ChinaA()

	saturday := time.Date(2026, 8, 22, 10, 0, 0, 0, time.Local)
	sunday := time.Date(2026, 8, 23, 10, 0, 0, 0, time.Local)

	assert.False(t, cal.IsTradingDay(saturday))
	assert.False(t, cal.IsTradingDay(sunday))
	assert.True(t, cal.IsTradingDay(monday(10, 0)))
}

func TestCalendar_IsTradingDay_Holiday(t *testing.T) {
	holiday := time.Date(2026, 10, 1, 0, 0, 0, 0, time.Local)
	cal := ChinaA().WithHolidays([]time.Time{holiday})

	nationalDay := time.Date(2026, 10, 1, 10, 0, 0, 0, time.Local)
	assert.False(t, cal.IsTradingDay(nationalDay))
	assert.True(t, cal.IsTradingDay(monday(10, 0)))
}

func TestCalendar_IsTradingHours_MorningSession(t *testing.T) {
	cal := ChinaA()

	assert.False(t, cal.IsTradingHours(monday(9, 29)))
	assert.True(t, cal.IsTradingHours(monday(9, 30)))
	assert.True(t, cal.IsTradingHours(monday(10, 45)))
	assert.True(t, cal.IsTradingHours(monday(11, 30)))
	assert.False(t, cal.IsTradingHours(monday(11, 31)))
}

func TestCalendar_IsTradingHours_LunchBreak(t *testing.T) {
	cal := ChinaA()

	assert.False(t, cal.IsTradingHours(monday(12, 0)))
	assert.False(t, cal.IsTradingHours(monday(12, 59)))
	assert.True(t, cal.IsTradingHours(monday(13, 0)))
}

func TestCalendar_IsTradingHours_Close(t *testing.T) {
	cal := ChinaA()

	assert.True(t, cal.IsTradingHours(monday(15, 0)))
	assert.False(t, cal.IsTradingHours(monday(15, 1)))
}

func TestCalendar_IsTradingHours_Weekend(t *testing.T) {
	cal := ChinaA()

	saturdayMorning := time.Date(2026, 8, 22, 10, 0, 0, 0, time.Local)
	assert.False(t, cal.IsTradingHours(saturdayMorning))
}

func TestForLocale(t *testing.T) {
	assert.Equal(t, "cn", ForLocale("cn").Name)
	assert.Equal(t, "cn", ForLocale("").Name)
	assert.Equal(t, "cn", ForLocale("unknown").Name)
}
