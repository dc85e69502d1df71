package repository

// Channel is the NOTIFY channel the orders trigger writes to.
const Channel = "order_changes"

// schemaSQL is idempotent. Notifications stay under the 8000 byte NOTIFY limit:
// rows that do not fit are announced by key only and the relay reads them back.
const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS orders (
    id               uuid PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id          text NOT NULL,
    restaurant_id    text NOT NULL,
    status           text NOT NULL DEFAULT 'pending'
        CHECK (status IN ('pending','confirmed','preparing','ready','delivered','cancelled')),
    items            jsonb NOT NULL DEFAULT '[]'::jsonb,
    subtotal         numeric(10,2) NOT NULL DEFAULT 0,
    tax              numeric(10,2) NOT NULL DEFAULT 0,
    delivery_fee     numeric(10,2) NOT NULL DEFAULT 0,
    total            numeric(10,2) NOT NULL DEFAULT 0,
    delivery_address jsonb,
    notes            text,
    payment_status   text,
    created_at       timestamptz NOT NULL DEFAULT now(),
    updated_at       timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS orders_user_id_idx ON orders (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS orders_restaurant_id_idx ON orders (restaurant_id, created_at DESC);

CREATE OR REPLACE FUNCTION orders_touch_updated_at() RETURNS trigger AS $$
BEGIN
    NEW.updated_at := greatest(clock_timestamp(), OLD.updated_at + interval '1 microsecond');
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS orders_touch_updated_at ON orders;
CREATE TRIGGER orders_touch_updated_at
    BEFORE UPDATE ON orders
    FOR EACH ROW EXECUTE FUNCTION orders_touch_updated_at();

CREATE OR REPLACE FUNCTION orders_notify_change() RETURNS trigger AS $$
DECLARE
    payload text;
    new_row jsonb;
    old_row jsonb;
BEGIN
    IF TG_OP <> 'DELETE' THEN new_row := to_jsonb(NEW); END IF;
    IF TG_OP <> 'INSERT' THEN old_row := to_jsonb(OLD); END IF;

    payload := jsonb_build_object('eventType', TG_OP, 'table', TG_TABLE_NAME, 'new', new_row, 'old', old_row)::text;
    IF octet_length(payload) > 7900 THEN
        payload := jsonb_build_object(
            'eventType', TG_OP, 'table', TG_TABLE_NAME, 'truncated', true,
            'new', CASE WHEN new_row IS NULL THEN NULL ELSE jsonb_build_object(
                'id', NEW.id, 'user_id', NEW.user_id, 'restaurant_id', NEW.restaurant_id) END,
            'old', CASE WHEN old_row IS NULL THEN NULL ELSE jsonb_build_object(
                'id', OLD.id, 'user_id', OLD.user_id, 'restaurant_id', OLD.restaurant_id,
                'status', OLD.status, 'updated_at', OLD.updated_at) END
        )::text;
    END IF;
    PERFORM pg_notify('order_changes', payload);
    RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS orders_notify_change ON orders;
CREATE TRIGGER orders_notify_change
    AFTER INSERT OR UPDATE OR DELETE ON orders
    FOR EACH ROW EXECUTE FUNCTION orders_notify_change();
`
