package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/guildcal/guildcal"
)

// Message composition. Discord renders <t:unix:F> as a full localized
// timestamp and <t:unix:R> as a relative one.

func announcementMessage(e *guildcal.Event, guildID, scheduledEventID, voiceChannelID string) string {
	start := e.StartsAt.Unix()
	return fmt.Sprintf(`**New Event Alert!**

**%s**
%s

**When:** <t:%d:F> (<t:%d:R>)
**Timezone:** %s
**Duration:** %d minutes
**Where:** <#%s>

See you there!
https://discord.com/events/%s/%s`,
		e.Name, e.Description, start, start, e.Timezone,
		e.DurationMinutes(), voiceChannelID, guildID, scheduledEventID)
}

func reminderMessage(e *guildcal.Event, minutesBefore int, voiceChannelID string) string {
	return fmt.Sprintf(`**Reminder:** %s starts in %s!

**Duration:** %d minutes
%s

Join us in <#%s>`,
		e.Name, timeText(minutesBefore), e.DurationMinutes(), e.Description, voiceChannelID)
}

func startMessage(e *guildcal.Event, voiceChannelID string) string {
	return fmt.Sprintf(`**%s is starting now!**

%s

**Duration:** %d minutes
**Timezone:** %s

Join us in <#%s>`,
		e.Name, e.Description, e.DurationMinutes(), e.Timezone, voiceChannelID)
}

func digestMessage(events []*guildcal.Event, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Daily Schedule - %s**\n\n", now.Format("Monday, January 2"))
	if len(events) == 0 {
		b.WriteString("No events scheduled for today.")
		return b.String()
	}
	for _, e := range events {
		fmt.Fprintf(&b, "- **%s** at <t:%d:t> (%d min)\n", e.Name, e.StartsAt.Unix(), e.DurationMinutes())
	}
	return b.String()
}

func timeText(minutes int) string {
	if minutes >= 60 {
		hours := minutes / 60
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return fmt.Sprintf("%d minutes", minutes)
}
