package notify

import (
	"context"
	"fmt"

	"github.com/example/seat-scheduler/internal/traceint"
)

// Canned senders for the conditions the schedulers raise. Session
// invalidity, supervision and account restriction are safety-critical
// and bypass the user's subscription filter.

func CookieInvalid(ctx context.Context, sink Sink, userID int64) bool {
	return sink.Send(ctx, userID, TypeCookieInvalid,
		"🔑 Cookie已失效",
		"您的微信Cookie已失效或被限制，请重新扫码登录以恢复自动预约功能",
		Options{Icon: "🔐", Force: true})
}

func SessIDMissing(ctx context.Context, sink Sink, userID int64) bool {
	return sink.Send(ctx, userID, TypeSessIDMissing,
		"🔗 SessID缺失",
		"您尚未绑定微信 SessID，无法执行蓝牙签到，请在设置中补全",
		Options{Icon: "🔌", Force: true})
}

func BluetoothMissing(ctx context.Context, sink Sink, userID int64) bool {
	return sink.Send(ctx, userID, TypeBluetoothMissing,
		"📶 蓝牙配置缺失",
		"蓝牙打卡配置缺失（major/minor），请在设置中补全后重试",
		Options{Icon: "📡", Force: true})
}

func ReserveSuccess(ctx context.Context, sink Sink, userID int64, r *traceint.Reservation) bool {
	lib, floor, seat := "未知馆", "未知楼层", "未知座位"
	if r != nil {
		if r.LibName != "" {
			lib = r.LibName
		}
		if r.LibFloor != "" {
			floor = r.LibFloor
		}
		if r.SeatName != "" {
			seat = r.SeatName
		} else if r.SeatKey != "" {
			seat = r.SeatKey
		}
	}
	return sink.Send(ctx, userID, TypeReserveSuccess,
		"🎉 座位预约成功",
		fmt.Sprintf("已成功预约【%s - %s】的座位 %s", lib, floor, seat),
		Options{Icon: "🪑"})
}

func ReserveFailed(ctx context.Context, sink Sink, userID int64, errMsg string) bool {
	return sink.Send(ctx, userID, TypeReserveFailed,
		"❌ 座位预约失败",
		fmt.Sprintf("预约座位失败：%s，请检查配置或手动预约", errMsg),
		Options{Icon: "⚠️"})
}

func SigninSuccess(ctx context.Context, sink Sink, userID int64) bool {
	return sink.Send(ctx, userID, TypeSigninSuccess,
		"✅ 签到成功",
		"已成功签到座位，祝您学习愉快！",
		Options{Icon: "📚"})
}

func SigninFailed(ctx context.Context, sink Sink, userID int64, errMsg string) bool {
	return sink.Send(ctx, userID, TypeSigninFailed,
		"❌ 签到失败",
		fmt.Sprintf("签到失败：%s，请检查蓝牙配置或手动操作", errMsg),
		Options{Icon: "🔴"})
}

func Supervised(ctx context.Context, sink Sink, userID int64) bool {
	return sink.Send(ctx, userID, TypeSeatSupervised,
		"⚠️ 座位被监督举报",
		"您的座位已被监督举报，系统将在5分钟后自动蓝牙签到以解除警告",
		Options{Icon: "🚨", Force: true})
}

func Expiring(ctx context.Context, sink Sink, userID int64, minutesLeft int) bool {
	return sink.Send(ctx, userID, TypeReserveExpiring,
		"⏰ 预约即将过期",
		fmt.Sprintf("您的座位预约将在%d分钟后过期，请尽快签到！", minutesLeft),
		Options{Icon: "⏳", Force: true})
}

func AutoSigninDone(ctx context.Context, sink Sink, userID int64, result string) bool {
	return sink.Send(ctx, userID, TypeAutoSigninDone,
		"🤖 自动签到完成",
		fmt.Sprintf("检测到座位被监督举报，已自动执行蓝牙签到。结果：%s", result),
		Options{Icon: "✅"})
}

func AccountRestricted(ctx context.Context, sink Sink, userID int64) bool {
	return sink.Send(ctx, userID, TypeAccountRestricted,
		"🚫 账号已被限制",
		"连续多次会话校验失败，已清除本地登录凭证并停止自动任务，请重新授权",
		Options{Icon: "⛔", Force: true})
}
