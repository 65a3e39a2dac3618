package cache

import "github.com/redis/go-redis/v9"

// issueScript is the atomic check-and-commit for a single issuance attempt.
// All three keys carry the {event_id} hash tag, so the whole body runs on one
// shard and is indivisible relative to every other command.
//
// KEYS[1] stock counter, KEYS[2] participant set, KEYS[3] per-user slot
// ARGV[1] user id, ARGV[2] pre-minted coupon id, ARGV[3] TTL seconds
//
// Returns {1, 'SUCCESS', coupon_id, remaining} or {0, <reason>}.
var issueScript = redis.NewScript(`
local stock_key = KEYS[1]
local participants_key = KEYS[2]
local user_key = KEYS[3]
local user_id = ARGV[1]
local coupon_id = ARGV[2]
local ttl = tonumber(ARGV[3])

if redis.call('SISMEMBER', participants_key, user_id) == 1 then
    return {0, 'USER_ALREADY_PARTICIPATED'}
end

local stock = redis.call('GET', stock_key)
if stock == false then
    return {0, 'STOCK_NOT_INITIALIZED'}
end
if tonumber(stock) <= 0 then
    return {0, 'NO_STOCK_AVAILABLE'}
end

redis.call('SADD', participants_key, user_id)
local remaining = redis.call('DECR', stock_key)
redis.call('EXPIRE', participants_key, ttl)
redis.call('SET', user_key, coupon_id, 'EX', ttl)

return {1, 'SUCCESS', coupon_id, remaining}
`)

// compensateScript undoes one issuance when post-decision durability failed.
// Guarded on current membership so re-running it is a no-op.
//
// KEYS as in issueScript, ARGV[1] user id.
var compensateScript = redis.NewScript(`
local stock_key = KEYS[1]
local participants_key = KEYS[2]
local user_key = KEYS[3]
local user_id = ARGV[1]

if redis.call('SISMEMBER', participants_key, user_id) == 0 then
    return 0
end

redis.call('SREM', participants_key, user_id)
redis.call('INCR', stock_key)
redis.call('DEL', user_key)

return 1
`)
