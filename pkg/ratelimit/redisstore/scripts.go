package redisstore

import "github.com/redis/go-redis/v9"

// Scripts take time as integer milliseconds from the caller; Redis TIME is
// not consulted, so tests can drive the clock.

var tokenBucketScript = redis.NewScript(`
-- KEYS[1]: bucket hash
-- ARGV[1]: now (ms)
-- ARGV[2]: capacity
-- ARGV[3]: window (ms)

local key = KEYS[1]
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local window = tonumber(ARGV[3])

local state = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(state[1])
local last = tonumber(state[2])

if tokens == nil or last == nil then
    tokens = capacity
    last = now
else
    local elapsed = now - last
    if elapsed > 0 then
        local added = math.floor(elapsed * capacity / window)
        if added > 0 then
            tokens = math.min(capacity, tokens + added)
            last = now
        end
    end
end

local allowed = 0
if tokens > 0 then
    tokens = tokens - 1
    allowed = 1
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill', last)
redis.call('PEXPIRE', key, window)

return {allowed, tokens, last}
`)

var slidingWindowScript = redis.NewScript(`
-- KEYS[1]: request log sorted set
-- ARGV[1]: now (ms)
-- ARGV[2]: window (ms)
-- ARGV[3]: limit
-- ARGV[4]: member for this request

local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

local allowed = 0
if count < limit then
    redis.call('ZADD', key, now, ARGV[4])
    redis.call('PEXPIRE', key, window)
    count = count + 1
    allowed = 1
end

local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
    oldest = tonumber(first[2])
end

return {allowed, count, oldest}
`)

var fixedWindowScript = redis.NewScript(`
-- KEYS[1]: window counter
-- ARGV[1]: ttl (ms)

local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)
