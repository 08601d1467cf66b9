package snapshot

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"
)

// Policy says how many snapshots to keep in each age tier. Anything older
// than a year is always removed.
type Policy struct {
	Hourly  int // younger than a day
	Daily   int // younger than a week
	Weekly  int // younger than 30 days
	Monthly int // younger than a year
}

// DefaultPolicy keeps a day of hourlies, a week of dailies, a month of
// weeklies and a year of monthlies.
func DefaultPolicy() Policy {
	return Policy{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12}
}

type tier struct {
	name   string
	maxAge time.Duration
	keep   int
}

func (p Policy) tiers() []tier {
	const day = 24 * time.Hour
	return []tier{
		{"hourly", day, p.Hourly},
		{"daily", 7 * day, p.Daily},
		{"weekly", 30 * day, p.Weekly},
		{"monthly", 365 * day, p.Monthly},
	}
}

// Plan assigns every snapshot a tier and splits them into kept and
// expired. Within a tier the newest snapshots are kept.
func (p Policy) Plan(snaps []Info, now time.Time) (keep, expire []Info) {
	sortNewestFirst(snaps)
	tiers := p.tiers()
	kept := make([]int, len(tiers))

next:
	for _, s := range snaps {
		age := now.Sub(s.Taken)
		for i, t := range tiers {
			if age >= t.maxAge {
				continue
			}
			if kept[i] < t.keep {
				kept[i]++
				s.Retention = t.name
				keep = append(keep, s)
			} else {
				expire = append(expire, s)
			}
			continue next
		}
		expire = append(expire, s)
	}
	return keep, expire
}

// Prune deletes the snapshots in dir that policy expires and returns them.
// Deletion continues past individual failures.
func Prune(dir string, policy Policy, now time.Time) ([]Info, error) {
	snaps, err := List(dir)
	if err != nil {
		return nil, err
	}
	_, expire := policy.Plan(snaps, now)

	var errs []error
	removed := expire[:0]
	for _, s := range expire {
		if err := os.Remove(s.Path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, s)
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("snapshot: prune: %w", errors.Join(errs...))
	}
	return removed, nil
}

// DiskUsage sums the size of every snapshot in dir.
func DiskUsage(dir string) (int64, error) {
	snaps, err := List(dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, s := range snaps {
		total += s.Size
	}
	return total, nil
}

func sortNewestFirst(snaps []Info) {
	sort.SliceStable(snaps, func(i, j int) bool { return snaps[i].Taken.After(snaps[j].Taken) })
}
