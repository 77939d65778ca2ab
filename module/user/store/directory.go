package store

import (
	"context"

	usermodel "MarketChat/module/user/model"
)

// Directory 用户资料查询；会话和推送只读不写
type Directory interface {
	// Get 不存在或已注销返回 NotFound
	Get(ctx context.Context, userID string) (*usermodel.User, error)
	// Profiles 批量取资料快照，缺失的 id 不出现在结果里
	Profiles(ctx context.Context, userIDs []string) (map[string]usermodel.Profile, error)
}

func dedup(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
