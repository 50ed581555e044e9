package workers

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gosimple/slug"
	"gorm.io/gorm"

	"roast-battle-engine/models"
	"roast-battle-engine/utils"
)

// ArchiveWorker uploads a JSON summary of every completed match to R2, where
// the post-match history screens read it from the CDN. Matches are marked
// archived only after the upload succeeds, so a crash mid-batch just retries
// on the next poll.
type ArchiveWorker struct {
	DB *gorm.DB
}

func NewArchiveWorker(db *gorm.DB) *ArchiveWorker {
	return &ArchiveWorker{DB: db}
}

type matchSummary struct {
	MatchID       string              `json:"match_id"`
	Format        models.BattleFormat `json:"format"`
	WinnerTeam    *models.WinnerTeam  `json:"winner_team"`
	TeamAScore    int64               `json:"team_a_score"`
	TeamBScore    int64               `json:"team_b_score"`
	TeamAGiftsSEK float64             `json:"team_a_total_gifts_sek"`
	TeamBGiftsSEK float64             `json:"team_b_total_gifts_sek"`
	CompletedAt   *time.Time          `json:"completed_at"`
	Rewards       []models.Reward     `json:"rewards"`
}

// PollArchives archives completed matches every interval until the context
// is cancelled.
func PollArchives(ctx context.Context, w *ArchiveWorker, interval time.Duration) {
	log.Println("Match archive worker started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Match archive worker stopping")
			return
		case <-ticker.C:
			if err := w.archiveBatch(ctx); err != nil {
				log.Printf("[ARCHIVE] batch failed: %v", err)
			}
		}
	}
}

func (w *ArchiveWorker) archiveBatch(ctx context.Context) error {
	if !utils.R2Enabled() {
		return nil
	}

	var matches []models.Match
	err := w.DB.
		Where("status = ? AND archived_to_r2 = ?", models.MatchStatusCompleted, false).
		Order("completed_at ASC").
		Limit(10).
		Find(&matches).Error
	if err != nil {
		return fmt.Errorf("failed to list unarchived matches: %w", err)
	}

	for _, m := range matches {
		var rewards []models.Reward
		if err := w.DB.Where("match_id = ?", m.ID).Find(&rewards).Error; err != nil {
			return fmt.Errorf("failed to load rewards for %s: %w", m.ID, err)
		}

		summary := matchSummary{
			MatchID:       m.ID,
			Format:        m.Format,
			WinnerTeam:    m.WinnerTeam,
			TeamAScore:    m.TeamAScore,
			TeamBScore:    m.TeamBScore,
			TeamAGiftsSEK: m.TeamATotalGiftsSEK,
			TeamBGiftsSEK: m.TeamBTotalGiftsSEK,
			CompletedAt:   m.CompletedAt,
			Rewards:       rewards,
		}

		key := fmt.Sprintf("battles/%s/%s.json", slug.Make(string(m.Format)), m.ID)
		url, err := utils.UploadJSONToR2(ctx, key, summary)
		if err != nil {
			return fmt.Errorf("failed to archive match %s: %w", m.ID, err)
		}

		if err := w.DB.Model(&m).Update("archived_to_r2", true).Error; err != nil {
			return fmt.Errorf("failed to mark match %s archived: %w", m.ID, err)
		}
		log.Printf("[ARCHIVE] match %s archived to %s", m.ID, url)
	}
	return nil
}
