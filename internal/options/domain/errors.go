package domain

import "errors"

var (
	// 校验类错误
	ErrInvalidOptionKind = errors.New("invalid option kind")
	ErrInvalidStrike     = errors.New("strike outside configured bounds")
	ErrInvalidExpiry     = errors.New("expiry outside configured duration range")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInvalidBounds     = errors.New("invalid underlying bounds")

	// 标的与市场
	ErrAssetNotFound    = errors.New("underlying asset not found")
	ErrAssetExists      = errors.New("underlying asset already registered")
	ErrAssetInactive    = errors.New("underlying asset is inactive")
	ErrMarketNotFound   = errors.New("option market not found")
	ErrMarketExists     = errors.New("option market already exists")
	ErrMarketNotActive  = errors.New("option market not active")
	ErrMarketNotExpired = errors.New("option market not yet expired")
	ErrSystemPaused     = errors.New("trading is paused")

	// 交易与保证金
	ErrPremiumExceedsLimit    = errors.New("computed premium exceeds buyer limit")
	ErrPremiumBelowLimit      = errors.New("computed premium below writer limit")
	ErrInsufficientCollateral = errors.New("offered collateral below requirement")

	// 持仓与行权
	ErrPositionNotFound    = errors.New("option position not found")
	ErrNotOwner            = errors.New("caller does not own position")
	ErrAlreadyExercised    = errors.New("position already fully exercised")
	ErrQuantityExceedsHeld = errors.New("exercise quantity exceeds held quantity")
	ErrNotInTheMoney       = errors.New("position not in the money")
	ErrNotLongPosition     = errors.New("only long positions can be exercised")

	// 预言机
	ErrFeedNotFound = errors.New("oracle feed not found")
	ErrStalePrice   = errors.New("oracle price is stale")
	ErrFeedMismatch = errors.New("oracle feed identifier mismatch")

	// 数值
	ErrArithmeticOverflow = errors.New("arithmetic overflow")

	// 结算
	ErrSettlementInProgress = errors.New("settlement batch already running for market")
)
