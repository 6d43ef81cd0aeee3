package service

import (
	"fmt"
	"sync"
	"time"
)

// Названия лимитов, сработавших при отказе
const (
	CeilingHourly  = "hourly"
	CeilingDaily   = "daily"
	CeilingWeekly  = "weekly"
	CeilingEconomy = "economy"
)

const (
	economyHourlyLimit = 1

	hourRetention = 25 * time.Hour
	dayRetention  = 8 * 24 * time.Hour
	weekRetention = 4 * 7 * 24 * time.Hour
)

// QuotaLimits лимиты запросов к платным API
type QuotaLimits struct {
	Hourly          int
	Daily           int
	Weekly          int
	EconomyHours    []int
	EconomyWeekdays []time.Weekday
	Location        *time.Location
}

// DefaultQuotaLimits значения по умолчанию: 3/час, 25/день, 100/неделя
func DefaultQuotaLimits() QuotaLimits {
	return QuotaLimits{
		Hourly:          3,
		Daily:           25,
		Weekly:          100,
		EconomyHours:    []int{0, 1, 2, 3, 4, 5, 6},
		EconomyWeekdays: []time.Weekday{time.Sunday},
		Location:        time.Local,
	}
}

// QuotaDecision результат проверки CanProceed
type QuotaDecision struct {
	Allowed    bool
	Ceiling    string
	Reason     string
	RetryAfter time.Time
}

// QuotaUsage снимок текущего использования
type QuotaUsage struct {
	HourlyCount          int       `json:"hourly_count"`
	DailyCount           int       `json:"daily_count"`
	WeeklyCount          int       `json:"weekly_count"`
	HourlyLimit          int       `json:"hourly_limit"`
	DailyLimit           int       `json:"daily_limit"`
	WeeklyLimit          int       `json:"weekly_limit"`
	EffectiveHourlyLimit int       `json:"effective_hourly_limit"`
	EconomyMode          bool      `json:"economy_mode"`
	At                   time.Time `json:"at"`
}

type windowCounter struct {
	start time.Time
	count int
}

// QuotaGovernor мягкий in-memory лимитер запросов к внешним API.
//
// Счетчики живут только в памяти процесса и сбрасываются при рестарте.
// При нескольких репликах каждая считает свой лимит; для общего лимита
// счетчики нужно вынести в разделяемое хранилище.
type QuotaGovernor struct {
	mu     sync.Mutex
	limits QuotaLimits
	now    func() time.Time

	economyHours    map[int]struct{}
	economyWeekdays map[time.Weekday]struct{}

	hours map[string]*windowCounter
	days  map[string]*windowCounter
	weeks map[string]*windowCounter
}

// QuotaOption настройка QuotaGovernor
type QuotaOption func(*QuotaGovernor)

// WithClock подменяет источник времени (для тестов)
func WithClock(now func() time.Time) QuotaOption {
	return func(g *QuotaGovernor) {
		g.now = now
	}
}

// NewQuotaGovernor создает governor с заданными лимитами
func NewQuotaGovernor(limits QuotaLimits, opts ...QuotaOption) *QuotaGovernor {
	if limits.Location == nil {
		limits.Location = time.Local
	}

	g := &QuotaGovernor{
		limits:          limits,
		now:             time.Now,
		economyHours:    make(map[int]struct{}, len(limits.EconomyHours)),
		economyWeekdays: make(map[time.Weekday]struct{}, len(limits.EconomyWeekdays)),
		hours:           make(map[string]*windowCounter),
		days:            make(map[string]*windowCounter),
		weeks:           make(map[string]*windowCounter),
	}
	for _, h := range limits.EconomyHours {
		g.economyHours[h] = struct{}{}
	}
	for _, d := range limits.EconomyWeekdays {
		g.economyWeekdays[d] = struct{}{}
	}
	for _, opt := range opts {
		opt(g)
	}

	return g
}

// CanProceed проверяет, можно ли выполнить еще один запрос к внешнему API
func (g *QuotaGovernor) CanProceed() QuotaDecision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().In(g.limits.Location)
	hourStart, dayStart, weekStart := windowStarts(now)

	hourly := g.countAt(g.hours, hourStart, hourKey)
	if hourly >= g.limits.Hourly {
		return deny(CeilingHourly, hourly, g.limits.Hourly, nextHour(hourStart))
	}

	daily := g.countAt(g.days, dayStart, dayKey)
	if daily >= g.limits.Daily {
		return deny(CeilingDaily, daily, g.limits.Daily, dayStart.AddDate(0, 0, 1))
	}

	weekly := g.countAt(g.weeks, weekStart, dayKey)
	if weekly >= g.limits.Weekly {
		return deny(CeilingWeekly, weekly, g.limits.Weekly, weekStart.AddDate(0, 0, 7))
	}

	// Экономный режим может только ужесточить лимит
	if g.isEconomy(now) && hourly >= economyHourlyLimit {
		return deny(CeilingEconomy, hourly, economyHourlyLimit, nextHour(hourStart))
	}

	return QuotaDecision{Allowed: true}
}

// RecordRequest увеличивает все три счетчика и удаляет устаревшие окна.
// Вызывается только после реального запроса к внешнему API.
func (g *QuotaGovernor) RecordRequest() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().In(g.limits.Location)
	hourStart, dayStart, weekStart := windowStarts(now)

	increment(g.hours, hourStart, hourKey)
	increment(g.days, dayStart, dayKey)
	increment(g.weeks, weekStart, dayKey)

	prune(g.hours, now.Add(-hourRetention))
	prune(g.days, now.Add(-dayRetention))
	prune(g.weeks, now.Add(-weekRetention))
}

// UsageSnapshot возвращает счетчики, лимиты и флаг экономного режима
func (g *QuotaGovernor) UsageSnapshot() QuotaUsage {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().In(g.limits.Location)
	hourStart, dayStart, weekStart := windowStarts(now)
	economy := g.isEconomy(now)

	effective := g.limits.Hourly
	if economy && economyHourlyLimit < effective {
		effective = economyHourlyLimit
	}

	return QuotaUsage{
		HourlyCount:          g.countAt(g.hours, hourStart, hourKey),
		DailyCount:           g.countAt(g.days, dayStart, dayKey),
		WeeklyCount:          g.countAt(g.weeks, weekStart, dayKey),
		HourlyLimit:          g.limits.Hourly,
		DailyLimit:           g.limits.Daily,
		WeeklyLimit:          g.limits.Weekly,
		EffectiveHourlyLimit: effective,
		EconomyMode:          economy,
		At:                   now,
	}
}

// IsEconomyMode сообщает, действует ли экономный режим сейчас
func (g *QuotaGovernor) IsEconomyMode() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.isEconomy(g.now().In(g.limits.Location))
}

func (g *QuotaGovernor) isEconomy(now time.Time) bool {
	if _, ok := g.economyHours[now.Hour()]; ok {
		return true
	}
	_, ok := g.economyWeekdays[now.Weekday()]
	return ok
}

func (g *QuotaGovernor) countAt(counters map[string]*windowCounter, start time.Time, key func(time.Time) string) int {
	if c, ok := counters[key(start)]; ok {
		return c.count
	}
	return 0
}

func increment(counters map[string]*windowCounter, start time.Time, key func(time.Time) string) {
	k := key(start)
	c, ok := counters[k]
	if !ok {
		c = &windowCounter{start: start}
		counters[k] = c
	}
	c.count++
}

func prune(counters map[string]*windowCounter, cutoff time.Time) {
	for k, c := range counters {
		if c.start.Before(cutoff) {
			delete(counters, k)
		}
	}
}

func deny(ceiling string, count, limit int, retryAfter time.Time) QuotaDecision {
	return QuotaDecision{
		Allowed:    false,
		Ceiling:    ceiling,
		Reason:     fmt.Sprintf("%s limit reached (%d/%d)", ceiling, count, limit),
		RetryAfter: retryAfter,
	}
}

// windowStarts возвращает начало текущего часа, дня и ISO-недели (понедельник)
func windowStarts(now time.Time) (time.Time, time.Time, time.Time) {
	loc := now.Location()
	hour := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, loc)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	offset := (int(now.Weekday()) + 6) % 7
	week := day.AddDate(0, 0, -offset)
	return hour, day, week
}

func nextHour(hourStart time.Time) time.Time {
	return time.Date(hourStart.Year(), hourStart.Month(), hourStart.Day(), hourStart.Hour()+1, 0, 0, 0, hourStart.Location())
}

func hourKey(t time.Time) string {
	return t.Format("2006-01-02T15")
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
